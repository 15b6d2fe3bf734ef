package dialog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipbridge/gateway/sip"
)

func TestStore_CreateEnforcesUniqueCallID(t *testing.T) {
	s := NewStore(0)
	d := NewOutgoing("call-1@gw", "alice", sip.Uri{})
	require.NoError(t, s.Create(d))

	dup := NewOutgoing("call-1@gw", "bob", sip.Uri{})
	err := s.Create(dup)
	assert.ErrorIs(t, err, ErrExists)
}

// The dialog store size never exceeds max-concurrent-sessions.
func TestStore_CreateEnforcesCapacity(t *testing.T) {
	s := NewStore(1)
	require.NoError(t, s.Create(NewOutgoing("call-1@gw", "alice", sip.Uri{})))

	err := s.Create(NewOutgoing("call-2@gw", "bob", sip.Uri{}))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 1, s.Len())
}

// Cleanup is idempotent under concurrent races.
func TestStore_BeginTerminateIsIdempotentUnderRace(t *testing.T) {
	s := NewStore(0)
	require.NoError(t, s.Create(NewOutgoing("call-1@gw", "alice", sip.Uri{})))

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, shouldCleanup := s.BeginTerminate("call-1@gw")
			results <- shouldCleanup
		}()
	}
	wg.Wait()
	close(results)

	trueCount := 0
	for r := range results {
		if r {
			trueCount++
		}
	}
	assert.Equal(t, 1, trueCount)
}

func TestStore_BeginTerminateUnknownCallIsNoop(t *testing.T) {
	s := NewStore(0)
	d, _, should := s.BeginTerminate("missing")
	assert.Nil(t, d)
	assert.False(t, should)
}

func TestStore_BeginTerminateReportsPriorState(t *testing.T) {
	s := NewStore(0)
	require.NoError(t, s.Create(NewIncoming("call-1@gw", "alice")))

	d, prev, should := s.BeginTerminate("call-1@gw")
	require.NotNil(t, d)
	assert.True(t, should)
	assert.Equal(t, Ringing, prev)
	assert.Equal(t, Terminating, d.State())
}

func TestDialog_IsEstablishedRequiresBothTags(t *testing.T) {
	d := NewIncoming("call-1@gw", "")
	require.True(t, d.Establish())
	assert.False(t, d.IsEstablished())

	d.SetRemoteTag("remote-1")
	assert.True(t, d.IsEstablished())
}

func TestDialog_TransitionsAreTotallyOrdered(t *testing.T) {
	d := NewIncoming("call-1@gw", "alice")
	assert.Equal(t, Ringing, d.State())

	// A late ACK before the answer is rejected.
	assert.False(t, d.MarkAcked())

	require.True(t, d.TryTransition(Ringing, Answered))
	assert.False(t, d.TryTransition(Ringing, Answered))

	require.True(t, d.MarkAcked())
	assert.Equal(t, Established, d.State())

	prev, ok := d.BeginTerminate()
	require.True(t, ok)
	assert.Equal(t, Established, prev)

	// Nothing moves a terminating dialog forward again.
	assert.False(t, d.Establish())
	assert.False(t, d.MarkAcked())
	_, ok = d.BeginTerminate()
	assert.False(t, ok)
}

func TestDialog_NextSeqIncrements(t *testing.T) {
	d := NewOutgoing("call-1@gw", "alice", sip.Uri{})
	assert.Equal(t, uint32(1), d.Seq())
	assert.Equal(t, uint32(2), d.NextSeq())
	assert.Equal(t, uint32(2), d.Seq())
}

