package distributed

import (
	"bytes"
	"testing"
)

func TestWriteFrameThenReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hb := Heartbeat{WorkerID: "w1", Inflight: 3, QueueSize: 5, HealthScore: 0.9}

	if err := WriteFrame(&buf, MsgHeartbeat, hb); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	msgType, payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if msgType != MsgHeartbeat {
		t.Errorf("msgType = %v, want MsgHeartbeat", msgType)
	}

	var got Heartbeat
	if err := DecodePayload(payload, &got); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got != hb {
		t.Errorf("got = %+v, want %+v", got, hb)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 5)
	header[0] = 0xff
	header[1] = 0xff
	header[2] = 0xff
	header[3] = 0xff
	buf.Write(header)

	if _, _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, MsgWorkRequest, WorkRequest{WorkerID: "w1", DesiredBatchSize: 4}); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, MsgShutdown, Shutdown{Reason: "draining"}); err != nil {
		t.Fatal(err)
	}

	msgType1, payload1, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	msgType2, payload2, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if msgType1 != MsgWorkRequest || msgType2 != MsgShutdown {
		t.Fatalf("msgTypes = %v, %v", msgType1, msgType2)
	}

	var wr WorkRequest
	if err := DecodePayload(payload1, &wr); err != nil || wr.WorkerID != "w1" {
		t.Errorf("decoded WorkRequest = %+v, err = %v", wr, err)
	}
	var sd Shutdown
	if err := DecodePayload(payload2, &sd); err != nil || sd.Reason != "draining" {
		t.Errorf("decoded Shutdown = %+v, err = %v", sd, err)
	}
}
