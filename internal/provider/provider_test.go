package provider

import (
	"testing"

	"github.com/voicebridge/corebridge/internal/model"
)

func TestNativeRatePerProvider(t *testing.T) {
	cases := map[model.ProviderKind]int{
		model.ProviderOpenAI:     24000,
		model.ProviderElevenLabs: 16000,
		model.ProviderGemini:     16000,
		model.ProviderMock:       16000,
	}
	for kind, want := range cases {
		if got := NativeRate(kind); got != want {
			t.Fatalf("NativeRate(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestErrProviderDeadUnwraps(t *testing.T) {
	cause := &testErr{msg: "boom"}
	err := &ErrProviderDead{Cause: cause}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
	if got := err.Unwrap(); got != cause {
		t.Fatalf("Unwrap() = %v, want %v", got, cause)
	}
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
