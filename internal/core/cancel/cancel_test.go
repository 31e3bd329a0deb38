package cancel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSource_CancelIsIdempotentAndKeepsFirstReason(t *testing.T) {
	s := NewSource()
	first := errors.New("first")
	second := errors.New("second")
	s.Cancel(first)
	s.Cancel(second)
	if s.Err() != first {
		t.Errorf("Err() = %v, want %v", s.Err(), first)
	}
}

func TestLink_AnyLegCancelsTheDerivedContext(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(parent context.Context, legs []*Source, cancelParent context.CancelFunc)
	}{
		{
			name: "first leg fires",
			trigger: func(_ context.Context, legs []*Source, _ context.CancelFunc) {
				legs[0].Cancel(errors.New("leg0"))
			},
		},
		{
			name: "last leg fires",
			trigger: func(_ context.Context, legs []*Source, _ context.CancelFunc) {
				legs[len(legs)-1].Cancel(errors.New("legN"))
			},
		},
		{
			name: "parent context cancelled",
			trigger: func(_ context.Context, _ []*Source, cancelParent context.CancelFunc) {
				cancelParent()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, cancelParent := context.WithCancel(context.Background())
			defer cancelParent()

			legs := []*Source{NewSource(), NewSource(), NewSource()}
			derived, cancel := Link(parent, legs...)
			defer cancel()

			select {
			case <-derived.Done():
				t.Fatal("derived context cancelled before any leg fired")
			case <-time.After(20 * time.Millisecond):
			}

			tt.trigger(parent, legs, cancelParent)

			select {
			case <-derived.Done():
			case <-time.After(time.Second):
				t.Fatal("derived context was never cancelled")
			}
		})
	}
}

func TestLink_CancellingOneLegDoesNotBlockOnSiblings(t *testing.T) {
	// A sibling leg that is never fired must not prevent Link's derived
	// context from cancelling promptly when another leg fires.
	neverFires := NewSource()
	fires := NewSource()
	derived, cancel := Link(context.Background(), neverFires, fires)
	defer cancel()

	fires.Cancel(errors.New("fired"))

	select {
	case <-derived.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("derived context blocked on a sibling leg that never fired")
	}
}

func TestLink_NoSourcesBehavesLikePlainWithCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	derived, cancel := Link(parent)
	defer cancel()

	cancelParent()
	select {
	case <-derived.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context did not observe parent cancellation")
	}
}
