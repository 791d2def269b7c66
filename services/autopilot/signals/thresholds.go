// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signals detects anomalies in account performance and knowledge.
//
// Detection is a pure function of a knowledge graph, a performance snapshot
// and a threshold table (Detect). The Monitor wraps it with persistence: the
// non-info signals of the latest scan become the account's active set and
// every signal is appended to a bounded history.
package signals

// Tier is a two-level threshold. Values are percentages.
type Tier struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// severityFor returns the highest tier crossed by magnitude (inclusive) and
// the threshold of that tier. ok is false when no tier is crossed.
func (t Tier) severityFor(magnitude float64) (critical bool, threshold float64, ok bool) {
	switch {
	case magnitude >= t.Critical:
		return true, t.Critical, true
	case magnitude >= t.Warning:
		return false, t.Warning, true
	}
	return false, 0, false
}

// Thresholds is the detector threshold table.
//
// Metric tiers compare the relative change between periods. BudgetExhaustion
// compares channel budget utilization. TrackingFailure compares the
// discrepancy between platform-reported and tracked conversions.
// NegativeROI compares the size of the loss: ROI below -Warning is a warning
// and ROI at or below -Critical is critical.
type Thresholds struct {
	CPASpike            Tier `json:"cpa_spike" yaml:"cpa_spike"`
	CTRCollapse         Tier `json:"ctr_collapse" yaml:"ctr_collapse"`
	ConversionDrop      Tier `json:"conversion_drop" yaml:"conversion_drop"`
	ROASDecline         Tier `json:"roas_decline" yaml:"roas_decline"`
	NegativeROI         Tier `json:"negative_roi" yaml:"negative_roi"`
	BudgetExhaustion    Tier `json:"budget_exhaustion" yaml:"budget_exhaustion"`
	TrackingFailure     Tier `json:"tracking_failure" yaml:"tracking_failure"`
	QualityScoreDrop    Tier `json:"quality_score_drop" yaml:"quality_score_drop"`
	ImpressionShareLoss Tier `json:"impression_share_loss" yaml:"impression_share_loss"`
}

// DefaultThresholds returns the built-in threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPASpike:            Tier{Warning: 20, Critical: 50},
		CTRCollapse:         Tier{Warning: 25, Critical: 50},
		ConversionDrop:      Tier{Warning: 25, Critical: 50},
		ROASDecline:         Tier{Warning: 20, Critical: 40},
		NegativeROI:         Tier{Warning: 0, Critical: 25},
		BudgetExhaustion:    Tier{Warning: 90, Critical: 100},
		TrackingFailure:     Tier{Warning: 20, Critical: 50},
		QualityScoreDrop:    Tier{Warning: 10, Critical: 25},
		ImpressionShareLoss: Tier{Warning: 15, Critical: 30},
	}
}
