// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposedChange_ValidateAmounts(t *testing.T) {
	tests := []struct {
		name    string
		change  ProposedChange
		wantErr bool
	}{
		{"budget to zero", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 100, ProposedBudget: 0}), false},
		{"budget from zero", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 0, ProposedBudget: 50}), false},
		{"negative proposed budget", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 0, ProposedBudget: -500}), true},
		{"negative current budget", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: -1, ProposedBudget: 10}), true},
		{"NaN proposed budget", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 100, ProposedBudget: math.NaN()}), true},
		{"infinite proposed budget", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: 100, ProposedBudget: math.Inf(1)}), true},
		{"NaN current budget", NewBudgetChange(BudgetChange{Channel: "search", CurrentBudget: math.NaN(), ProposedBudget: 10}), true},
		{"experiment ok", NewExperimentChange(ExperimentChange{Name: "e", Budget: 250, DurationDays: 14}), false},
		{"negative experiment budget", NewExperimentChange(ExperimentChange{Name: "e", Budget: -10}), true},
		{"infinite experiment budget", NewExperimentChange(ExperimentChange{Name: "e", Budget: math.Inf(-1)}), true},
		{"negative experiment duration", NewExperimentChange(ExperimentChange{Name: "e", Budget: 10, DurationDays: -3}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidChange))
				return
			}
			assert.NoError(t, err)
		})
	}
}
