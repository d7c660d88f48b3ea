package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knossys/conductor/internal/oerr"
)

func step(order int, deps ...int) Step {
	return Step{
		StepOrder:    order,
		ActionType:   "notify",
		TargetType:   "admin",
		Parameters:   map[string]any{"message": "x"},
		Dependencies: deps,
	}
}

func TestValidateStepsRejectsBadInput(t *testing.T) {
	var verr *oerr.ValidationError

	require.ErrorAs(t, ValidateSteps(nil), &verr)

	err := ValidateSteps([]Step{step(1), step(1)})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "duplicate")

	err = ValidateSteps([]Step{step(1, 9)})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "unknown step")

	err = ValidateSteps([]Step{step(1, 1)})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "itself")
}

func TestValidateStepsRejectsCycles(t *testing.T) {
	err := ValidateSteps([]Step{step(1, 3), step(2, 1), step(3, 2)})
	require.ErrorIs(t, err, oerr.ErrCyclicPlan)
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	steps := []Step{step(4, 2, 3), step(2, 1), step(1), step(3, 1)}
	index := map[int]int{4: 0, 2: 1, 1: 2, 3: 3}

	order, err := topoOrder(steps, index)
	require.NoError(t, err)

	var orders []int
	for _, i := range order {
		orders = append(orders, steps[i].StepOrder)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, orders)
}

func TestTopoOrderIndependentBranches(t *testing.T) {
	steps := []Step{step(3, 1), step(1), step(2)}
	index := map[int]int{3: 0, 1: 1, 2: 2}

	order, err := topoOrder(steps, index)
	require.NoError(t, err)

	pos := map[int]int{}
	for at, i := range order {
		pos[steps[i].StepOrder] = at
	}
	assert.Less(t, pos[1], pos[3], "dependency runs first")
	assert.Less(t, pos[1], pos[2], "ties break by step order")
}
