package errors_test

import (
	"errors"
	"testing"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	e := rerrors.NewConfigSchemaError("Bad config", "field x is wrong", "fix x", cause)
	require.ErrorIs(t, e, cause)
	require.Contains(t, e.Error(), "boom")
	require.Contains(t, e.Error(), "Bad config")
}

func TestExitCodes(t *testing.T) {
	cases := map[*rerrors.Error]int{
		rerrors.NewUsageError("", "", "", nil):          2,
		rerrors.NewConfigSchemaError("", "", "", nil):   3,
		rerrors.NewConfigCycleError("", "", "", nil):    4,
		rerrors.NewLockMissingError("", "", "", nil):    4,
		rerrors.NewConcurrentRunError("", "", "", nil):  6,
		rerrors.NewRepoNotFoundError("", "", "", nil):   5,
		rerrors.NewAssemblyIOError("", "", "", nil):     7,
		rerrors.NewInterruptedError("", "", "", nil):    1,
	}
	for err, want := range cases {
		require.Equal(t, want, err.ExitCode())
	}
}

func TestAsRsplugErrorWrapsPlainErrors(t *testing.T) {
	plain := errors.New("plain")
	wrapped := rerrors.AsRsplugError(plain)
	require.Equal(t, rerrors.KindInternal, wrapped.Kind)
	require.ErrorIs(t, wrapped, plain)
}
