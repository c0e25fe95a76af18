package invoicing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/fulfillment/internal/domain/shared"
)

func newTestRecord() *Record {
	return NewRecord(uuid.New(), EnvironmentSandbox, "order-1", "MLB-1")
}

func TestRecord_Queue_FromNotRequested(t *testing.T) {
	r := newTestRecord()
	require.NoError(t, r.Queue(EmitOptions{}))
	assert.Equal(t, StateQueued, r.State)
	assert.NotEmpty(t, r.DocumentRef)
	assert.Equal(t, FocusPending, r.FocusStatus)
}

func TestRecord_Reissue_MintsNewRef(t *testing.T) {
	r := newTestRecord()
	require.NoError(t, r.Queue(EmitOptions{}))
	require.NoError(t, r.StartProcessing())
	r.ApplyRemote(RemoteStatus{
		Environment:  EnvironmentSandbox,
		DocumentRef:  r.DocumentRef,
		FocusStatus:  FocusRejected,
		ErrorMessage: "Rejeição: CFOP inválido [codigo: 999, detalhe: xyz]",
	})
	require.Equal(t, StateRejected, r.State)
	assert.Equal(t, "Rejeição: CFOP inválido", r.ErrorMessage)
	d1 := r.DocumentRef

	err := r.Queue(EmitOptions{})
	assert.ErrorIs(t, err, shared.ErrAuthorizationRejected)
	assert.Equal(t, d1, r.DocumentRef)

	require.NoError(t, r.Queue(EmitOptions{ForceNewNumber: true, ForceNewRef: true}))
	assert.Equal(t, StateQueued, r.State)
	assert.NotEqual(t, d1, r.DocumentRef)
	assert.Empty(t, r.ErrorMessage)
	assert.True(t, r.ForceNewNumber)
}

func TestRecord_Queue_RejectsInFlightAndAuthorized(t *testing.T) {
	for _, state := range []State{StateProcessing, StateAuthorized, StateXMLSent} {
		t.Run(string(state), func(t *testing.T) {
			r := newTestRecord()
			r.State = state
			assert.ErrorIs(t, r.Queue(EmitOptions{ForceNewRef: true}), shared.ErrPreconditionFailed)
		})
	}
}

func TestRecord_Queue_StaleQueued(t *testing.T) {
	r := newTestRecord()
	require.NoError(t, r.Queue(EmitOptions{}))
	d1 := r.DocumentRef

	assert.ErrorIs(t, r.Queue(EmitOptions{}), shared.ErrPreconditionFailed)
	assert.Equal(t, d1, r.DocumentRef)

	require.NoError(t, r.Queue(EmitOptions{ForceNewRef: true}))
	assert.Equal(t, StateQueued, r.State)
	assert.NotEqual(t, d1, r.DocumentRef)
}

func TestRecord_ApplyRemote_IgnoresOtherEnvironmentAndRef(t *testing.T) {
	r := newTestRecord()
	require.NoError(t, r.Queue(EmitOptions{}))

	changed := r.ApplyRemote(RemoteStatus{Environment: EnvironmentProduction, DocumentRef: r.DocumentRef, FocusStatus: FocusAuthorized})
	assert.False(t, changed)
	assert.Equal(t, StateQueued, r.State)

	changed = r.ApplyRemote(RemoteStatus{Environment: EnvironmentSandbox, DocumentRef: "stale-ref", FocusStatus: FocusAuthorized})
	assert.False(t, changed)

	changed = r.ApplyRemote(RemoteStatus{Environment: EnvironmentSandbox, FocusStatus: FocusRejected})
	assert.False(t, changed)
	assert.Equal(t, StateQueued, r.State)

	changed = r.ApplyRemote(RemoteStatus{Environment: EnvironmentSandbox, DocumentRef: r.DocumentRef, FocusStatus: FocusAuthorized, XMLAvailable: true})
	assert.True(t, changed)
	assert.Equal(t, StateAuthorized, r.State)
	assert.True(t, r.XMLAvailable)
}

func TestRecord_XMLSubmission(t *testing.T) {
	r := newTestRecord()
	ok, err := r.CanSubmitXML()
	assert.False(t, ok)
	assert.ErrorIs(t, err, shared.ErrPreconditionFailed)

	r.State = StateAuthorized
	ok, err = r.CanSubmitXML()
	require.NoError(t, err)
	assert.True(t, ok)

	r.MarkXMLSent()
	assert.Equal(t, StateXMLSent, r.State)
	assert.Equal(t, SubmissionSent, r.SubmissionStatus)

	ok, err = r.CanSubmitXML()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRecord_StartProcessingRequiresQueued(t *testing.T) {
	r := newTestRecord()
	assert.ErrorIs(t, r.StartProcessing(), shared.ErrPreconditionFailed)
	require.NoError(t, r.Queue(EmitOptions{}))
	require.NoError(t, r.StartProcessing())
	assert.Equal(t, 1, r.Attempts)
	r.Requeue()
	assert.Equal(t, StateQueued, r.State)
}

func TestParseFocusStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want FocusStatus
		st   State
	}{
		{"autorizado", FocusAuthorized, StateAuthorized},
		{"processando_autorizacao", FocusProcessing, StateProcessing},
		{"erro_autorizacao", FocusError, StateError},
		{"denegado", FocusDenied, StateDenied},
		{"Cancelado", FocusCancelled, StateCancelled},
		{"rejected", FocusRejected, StateRejected},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			fs, ok := ParseFocusStatus(tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.want, fs)
			assert.Equal(t, tt.st, fs.State())
		})
	}
	_, ok := ParseFocusStatus("bogus")
	assert.False(t, ok)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "Duplicidade de NF-e", SanitizeErrorMessage("Duplicidade de NF-e [chNFe: 3519...]"))
	assert.Equal(t, "plain message", SanitizeErrorMessage("  plain message "))
	assert.Equal(t, "", SanitizeErrorMessage("[only diagnostics]"))
}

func TestRecord_ApplyRemote_LateStatusAfterReissue(t *testing.T) {
	r := newTestRecord()
	require.NoError(t, r.Queue(EmitOptions{}))
	require.NoError(t, r.StartProcessing())
	r.Fail("timeout")
	require.NoError(t, r.Queue(EmitOptions{ForceNewRef: true}))
	require.NoError(t, r.StartProcessing())

	// status of the old document arrives without a reference
	changed := r.ApplyRemote(RemoteStatus{Environment: EnvironmentSandbox, FocusStatus: FocusRejected, ErrorMessage: "duplicada"})
	assert.False(t, changed)
	assert.Equal(t, StateProcessing, r.State)
	assert.Empty(t, r.ErrorMessage)
}
