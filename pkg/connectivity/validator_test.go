package connectivity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

func TestNewValidatorDefaults(t *testing.T) {
	logger := logx.NewLogger("error", "test")

	t.Run("EmptyTargetsFallBackToAnycastResolvers", func(t *testing.T) {
		v := NewValidator(nil, 0, nil, logger)
		assert.Equal(t, []string{"8.8.8.8", "1.1.1.1"}, v.targets)
		assert.Equal(t, 3*time.Second, v.timeout)
		assert.NotNil(t, v.telemetry)
	})

	t.Run("ExplicitTargetsKept", func(t *testing.T) {
		v := NewValidator([]string{"10.0.0.1"}, 5*time.Second, nil, logger)
		assert.Equal(t, []string{"10.0.0.1"}, v.targets)
		assert.Equal(t, 5*time.Second, v.timeout)
	})

	t.Run("NonPositiveTimeoutReplaced", func(t *testing.T) {
		v := NewValidator([]string{"10.0.0.1"}, -1, nil, logger)
		assert.Equal(t, 3*time.Second, v.timeout)
	})
}
