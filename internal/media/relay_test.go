package media

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
)

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

func TestForwardDuringMembershipChanges(t *testing.T) {
	local, err := webrtc.NewTrackLocalStaticRTP(opusCapability, "audio", "relay-member_1")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticRTP failed: %v", err)
	}
	e := &Engine{logger: zerolog.Nop()}
	r := &relay{src: "member_1", outs: make(map[core.SessionID]*outTrack)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			sid := core.SessionID(fmt.Sprintf("member_%d", i%8+2))
			r.mu.Lock()
			r.outs[sid] = &outTrack{track: local}
			r.mu.Unlock()
			r.removeOut(sid)
		}
	}()

	pkt := &rtp.Packet{}
	for {
		select {
		case <-done:
			return
		default:
			r.forward(pkt, e)
		}
	}
}

func TestConcurrentSubscribeKeepsSingleOutTrack(t *testing.T) {
	e, err := NewEngine(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ms, err := e.OpenSession(context.Background(), "member_2", audioCapabilitySDP, false)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	dst := ms.(*Session)
	defer dst.Close()

	r := &relay{
		src:     "member_1",
		codec:   opusCapability,
		trackID: "audio",
		outs:    make(map[core.SessionID]*outTrack),
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.addOut(dst, e)
		}()
	}
	wg.Wait()

	r.mu.RLock()
	n := len(r.outs)
	r.mu.RUnlock()
	if n != 1 {
		t.Fatalf("Expected 1 out track, got %d", n)
	}

	live := 0
	for _, sn := range dst.pc.GetSenders() {
		if sn.Track() != nil {
			live++
		}
	}
	if live != 1 {
		t.Errorf("Expected exactly 1 sending track on the peer connection, got %d", live)
	}
}

func TestAddOutSkipsClosedSession(t *testing.T) {
	e, err := NewEngine(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ms, err := e.OpenSession(context.Background(), "member_2", audioCapabilitySDP, false)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	dst := ms.(*Session)
	dst.Close()

	r := &relay{
		src:     "member_1",
		codec:   opusCapability,
		trackID: "audio",
		outs:    make(map[core.SessionID]*outTrack),
	}
	r.addOut(dst, e)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.outs) != 0 {
		t.Errorf("Expected no out track for a closed session, got %d", len(r.outs))
	}
}
