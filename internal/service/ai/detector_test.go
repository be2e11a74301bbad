package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/frame"
	"peoplecounter/internal/logger"
)

func TestBackendFor(t *testing.T) {
	tests := []struct {
		device  string
		model   string
		backend gocv.NetBackendType
		target  gocv.NetTargetType
	}{
		{"CPU", "ssd.pb", gocv.NetBackendDefault, gocv.NetTargetCPU},
		{"cpu", "person-detection-retail-0013.xml", gocv.NetBackendOpenVINO, gocv.NetTargetCPU},
		{"GPU", "ssd.pb", gocv.NetBackendDefault, gocv.NetTargetFP32},
		{"GPU_FP16", "ssd.xml", gocv.NetBackendOpenVINO, gocv.NetTargetFP16},
		{"MYRIAD", "ssd.xml", gocv.NetBackendOpenVINO, gocv.NetTargetVPU},
		{"CUDA", "ssd.onnx", gocv.NetBackendCUDA, gocv.NetTargetCUDA},
		{"unknown", "ssd.pb", gocv.NetBackendDefault, gocv.NetTargetCPU},
	}

	for _, tt := range tests {
		t.Run(tt.device+"/"+tt.model, func(t *testing.T) {
			backend, target := BackendFor(tt.device, tt.model)
			if backend != tt.backend || target != tt.target {
				t.Errorf("Expected %v/%v, got %v/%v", tt.backend, tt.target, backend, target)
			}
		})
	}
}

func newTestDetector(requests int) *DetectorService {
	cfg := &config.Config{
		ModelPath:   "missing.xml",
		Device:      "CPU",
		InputWidth:  300,
		InputHeight: 300,
		BlobScale:   1,
		NumRequests: requests,
	}
	return NewDetectorService(cfg, logger.Discard())
}

func TestDetector_LoadMissingModel(t *testing.T) {
	d := newTestDetector(1)
	if _, err := d.Load(); err == nil {
		t.Error("Expected error for missing model")
	}
}

func TestDetector_RequiresLoad(t *testing.T) {
	d := newTestDetector(1)
	f := frame.Frame{Width: 1, Height: 1, Data: make([]byte, 3)}

	if err := d.Submit(0, f); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}
	if _, err := d.PerformanceCounts(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}
	if err := d.Release(); err != nil {
		t.Errorf("Release of unloaded detector failed: %v", err)
	}
}

func TestDetector_SlotValidation(t *testing.T) {
	d := newTestDetector(2)

	if err := d.Wait(context.Background(), 2); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Expected ErrInvalidSlot, got %v", err)
	}
	if err := d.Wait(context.Background(), 1); !errors.Is(err, ErrSlotIdle) {
		t.Errorf("Expected ErrSlotIdle, got %v", err)
	}
	if _, err := d.Fetch(0); !errors.Is(err, ErrSlotIdle) {
		t.Errorf("Expected ErrSlotIdle, got %v", err)
	}
}

func TestNewDetectorService_AtLeastOneSlot(t *testing.T) {
	d := newTestDetector(0)
	if len(d.slots) != 1 {
		t.Errorf("Expected 1 slot, got %d", len(d.slots))
	}
}

func TestDetector_ReleaseDoesNotWaitForHungForward(t *testing.T) {
	d := newTestDetector(1)
	d.loaded = true

	unblock := make(chan struct{})
	netClosed := make(chan struct{})
	d.forward = func(gocv.Mat) gocv.Mat {
		<-unblock
		return gocv.NewMatWithSize(1, 7, gocv.MatTypeCV32F)
	}
	d.closeNet = func() error {
		close(netClosed)
		return nil
	}

	f := frame.Frame{Width: 2, Height: 2, Data: make([]byte, 2*2*3)}
	if err := d.Submit(0, f); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}

	released := make(chan error, 1)
	go func() { released <- d.Release() }()

	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Release failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Release blocked on the running forward pass")
	}

	select {
	case <-netClosed:
		t.Fatal("Network closed while a forward pass was running")
	default:
	}

	if err := d.Submit(0, f); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded after release, got %v", err)
	}

	close(unblock)
	select {
	case <-netClosed:
	case <-time.After(time.Second):
		t.Fatal("Network not closed after the forward pass finished")
	}

	if _, err := d.Fetch(0); !errors.Is(err, ErrSlotIdle) {
		t.Errorf("Expected released slot to be idle, got %v", err)
	}
}

func TestDetector_ReleaseClosesIdleNetwork(t *testing.T) {
	d := newTestDetector(1)
	d.loaded = true

	closed := 0
	d.closeNet = func() error {
		closed++
		return nil
	}

	if err := d.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := d.Release(); err != nil {
		t.Fatalf("Second Release failed: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected network closed once, got %d", closed)
	}
}
