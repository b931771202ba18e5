package types //nolint:revive // types is a valid package name

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutionFailure_MatchesNotResolved(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&ResolutionFailure{Kind: KeyUser, Key: "a@b.c", Cause: CauseUnreachable, Err: cause})

	assert.ErrorIs(t, err, ErrNotResolved)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unreachable")

	empty := error(&ResolutionFailure{Kind: KeyCourse, Key: "C1", Cause: CauseEmpty})
	assert.ErrorIs(t, empty, ErrNotResolved)
}

func TestStepFailure_Message(t *testing.T) {
	err := &StepFailure{Step: "add-template", Backend: BackendREST, Status: 500, Err: errors.New("unexpected status 500")}
	assert.Equal(t, "step add-template (rest) failed: status 500: unexpected status 500", err.Error())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Fatalf("config file not found: %s", "x.yaml")))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", &FatalConfigError{Msg: "bad"})))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestRecordOutcome_Failed(t *testing.T) {
	o := RecordOutcome{Steps: []StepResult{
		{Step: "a", Status: StepSucceeded},
		{Step: "b", Status: StepFailed},
		{Step: "c", Status: StepSucceeded},
	}}
	assert.Equal(t, 1, o.Failed())
}

func TestRecord_Label(t *testing.T) {
	r := &Record{Keys: map[KeyKind]string{KeyUser: "a@b.c", KeyCourse: "C1"}}
	assert.Equal(t, "course=C1,user=a@b.c", r.Label())

	r.UniqueKey = "a@b.c|C1"
	assert.Equal(t, "a@b.c|C1", r.Label())
}
