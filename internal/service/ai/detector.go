package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/detection"
	"peoplecounter/internal/frame"
	"peoplecounter/internal/logger"
)

var (
	ErrNotLoaded   = errors.New("detection network not loaded")
	ErrInvalidSlot = errors.New("invalid request slot")
	ErrSlotBusy    = errors.New("request slot busy")
	ErrSlotIdle    = errors.New("no request submitted on slot")
)

// InputShape is the NCHW shape the network expects.
type InputShape struct {
	N, C, H, W int
}

type request struct {
	busy   bool
	done   chan struct{}
	output gocv.Mat
	err    error
}

// DetectorService runs an SSD network through OpenCV DNN. Each request slot
// holds at most one forward pass.
type DetectorService struct {
	net      gocv.Net
	netMutex sync.Mutex
	forward  func(blob gocv.Mat) gocv.Mat
	closeNet func() error

	// guarded by slotsMutex
	slots      []*request
	loaded     bool
	running    int
	slotsMutex sync.Mutex

	modelPath    string
	configPath   string
	device       string
	cpuExtension string
	shape        InputShape
	scale        float64
	mean         float64
	swapRB       bool
	logger       *logger.Logger
}

// NewDetectorService creates a detector for the configured model. Call Load before use.
func NewDetectorService(config *config.Config, logger *logger.Logger) *DetectorService {
	slots := config.NumRequests
	if slots < 1 {
		slots = 1
	}

	s := &DetectorService{
		slots:        make([]*request, slots),
		modelPath:    config.ModelPath,
		configPath:   config.ModelConfigPath,
		device:       strings.ToUpper(config.Device),
		cpuExtension: config.CPUExtension,
		shape:        InputShape{N: 1, C: 3, H: config.InputHeight, W: config.InputWidth},
		scale:        config.BlobScale,
		mean:         config.BlobMean,
		swapRB:       config.SwapRB,
		logger:       logger,
	}
	for i := range s.slots {
		s.slots[i] = &request{}
	}
	s.forward = s.runForward
	s.closeNet = func() error { return s.net.Close() }
	return s
}

// Load reads the network and selects the compute backend for the device.
func (s *DetectorService) Load() (InputShape, error) {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return InputShape{}, fmt.Errorf("model file not found: %s", s.modelPath)
	}

	weights, cfgPath := s.modelPath, s.configPath
	// OpenVINO IR keeps the topology in .xml and the weights in a sibling .bin.
	if strings.EqualFold(filepath.Ext(s.modelPath), ".xml") {
		weights = strings.TrimSuffix(s.modelPath, filepath.Ext(s.modelPath)) + ".bin"
		cfgPath = s.modelPath
	}
	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return InputShape{}, fmt.Errorf("config file not found: %s", cfgPath)
		}
	}

	net := gocv.ReadNet(weights, cfgPath)
	if net.Empty() {
		return InputShape{}, fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	backend, target := BackendFor(s.device, s.modelPath)
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return InputShape{}, fmt.Errorf("failed to set backend or target for device %s: %w", s.device, errors.Join(errBackend, errTarget))
	}

	if s.cpuExtension != "" {
		s.logger.Warning("CPU extension %s is not applied: OpenCV DNN has no extension loader", s.cpuExtension)
	}

	s.netMutex.Lock()
	s.net = net
	s.netMutex.Unlock()

	s.slotsMutex.Lock()
	s.loaded = true
	s.slotsMutex.Unlock()

	s.logger.Info("Detection network loaded (model: %s, device: %s, input: %dx%d)", s.modelPath, s.device, s.shape.W, s.shape.H)
	return s.shape, nil
}

// BackendFor maps a device name to the OpenCV DNN backend and target.
func BackendFor(device, modelPath string) (gocv.NetBackendType, gocv.NetTargetType) {
	backend := gocv.NetBackendDefault
	if strings.EqualFold(filepath.Ext(modelPath), ".xml") {
		backend = gocv.NetBackendOpenVINO
	}

	switch strings.ToUpper(device) {
	case "GPU":
		return backend, gocv.NetTargetFP32
	case "GPU_FP16":
		return backend, gocv.NetTargetFP16
	case "MYRIAD":
		return gocv.NetBackendOpenVINO, gocv.NetTargetVPU
	case "CUDA":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	default:
		return backend, gocv.NetTargetCPU
	}
}

// Submit starts an asynchronous forward pass of f on slot.
func (s *DetectorService) Submit(slot int, f frame.Frame) error {
	if !s.isLoaded() {
		return ErrNotLoaded
	}
	if !f.Complete() {
		return fmt.Errorf("frame %d is incomplete", f.Seq)
	}

	req, err := s.request(slot)
	if err != nil {
		return err
	}

	s.slotsMutex.Lock()
	if !s.loaded {
		s.slotsMutex.Unlock()
		return ErrNotLoaded
	}
	if req.busy {
		s.slotsMutex.Unlock()
		return fmt.Errorf("%w: %d", ErrSlotBusy, slot)
	}
	req.busy = true
	req.done = make(chan struct{})
	req.err = nil
	s.running++
	s.slotsMutex.Unlock()

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		s.slotsMutex.Lock()
		req.busy = false
		s.running--
		last := !s.loaded && s.running == 0
		s.slotsMutex.Unlock()
		if last {
			s.close()
		}
		return fmt.Errorf("failed to wrap frame %d: %w", f.Seq, err)
	}

	//Create blob resized to the network input, planar NCHW layout
	blob := gocv.BlobFromImage(mat, s.scale, image.Pt(s.shape.W, s.shape.H),
		gocv.NewScalar(s.mean, s.mean, s.mean, 0), s.swapRB, false)
	mat.Close()

	go func() {
		defer blob.Close()

		s.netMutex.Lock()
		output := s.forward(blob)
		s.netMutex.Unlock()

		if output.Empty() {
			output.Close()
			s.finish(req, gocv.Mat{}, errors.New("forward pass returned no output"))
			return
		}
		s.finish(req, output, nil)
	}()

	return nil
}

func (s *DetectorService) runForward(blob gocv.Mat) gocv.Mat {
	s.net.SetInput(blob, "")
	return s.net.Forward("")
}

// Wait blocks until the forward pass on slot completes or ctx is done.
func (s *DetectorService) Wait(ctx context.Context, slot int) error {
	req, err := s.request(slot)
	if err != nil {
		return err
	}

	s.slotsMutex.Lock()
	busy, done := req.busy, req.done
	s.slotsMutex.Unlock()
	if !busy {
		return fmt.Errorf("%w: %d", ErrSlotIdle, slot)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.slotsMutex.Lock()
	defer s.slotsMutex.Unlock()
	return req.err
}

// Fetch decodes the SSD output of a completed request and frees the slot.
func (s *DetectorService) Fetch(slot int) ([]detection.Detection, error) {
	req, err := s.request(slot)
	if err != nil {
		return nil, err
	}

	s.slotsMutex.Lock()
	defer s.slotsMutex.Unlock()

	if !req.busy {
		return nil, fmt.Errorf("%w: %d", ErrSlotIdle, slot)
	}
	select {
	case <-req.done:
	default:
		return nil, fmt.Errorf("request on slot %d still running", slot)
	}

	output := req.output
	req.output = gocv.Mat{}
	req.busy = false
	if req.err != nil {
		return nil, req.err
	}
	defer output.Close()

	// Output rows: [ image_id, label, confidence, x_min, y_min, x_max, y_max ]
	values, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}
	return detection.DecodeSSD(values), nil
}

// PerformanceCounts reports the layers of the network and the time of the last forward pass.
func (s *DetectorService) PerformanceCounts() (detection.PerfReport, error) {
	s.netMutex.Lock()
	defer s.netMutex.Unlock()

	if !s.isLoaded() {
		return detection.PerfReport{}, ErrNotLoaded
	}

	ticks := s.net.GetPerfProfile()
	report := detection.PerfReport{
		Total: time.Duration(ticks / gocv.GetTickFrequency() * float64(time.Second)),
	}

	for i, name := range s.net.GetLayerNames() {
		layer := s.net.GetLayer(i + 1)
		report.Layers = append(report.Layers, detection.LayerStat{Name: name, Type: layer.GetType()})
		layer.Close()
	}
	return report, nil
}

// Release unloads the network and returns without waiting for running
// forward passes. The network is closed by the last of them to finish.
func (s *DetectorService) Release() error {
	s.slotsMutex.Lock()
	if !s.loaded {
		s.slotsMutex.Unlock()
		return nil
	}
	s.loaded = false

	for _, req := range s.slots {
		if req.busy {
			select {
			case <-req.done:
				if req.err == nil {
					req.output.Close()
				}
				req.busy = false
			default:
			}
		}
	}
	running := s.running
	s.slotsMutex.Unlock()

	if running > 0 {
		s.logger.Warning("Detection network released with %d forward pass(es) still running", running)
		return nil
	}
	s.logger.Info("Detection network released")
	return s.close()
}

func (s *DetectorService) request(slot int) (*request, error) {
	if slot < 0 || slot >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidSlot, slot, len(s.slots))
	}
	return s.slots[slot], nil
}

// finish completes req. After Release nobody fetches the result, so it is
// dropped, and the last finishing request closes the network.
func (s *DetectorService) finish(req *request, output gocv.Mat, err error) {
	s.slotsMutex.Lock()
	s.running--
	released := !s.loaded
	last := released && s.running == 0
	if released {
		req.busy = false
		if err == nil {
			output.Close()
		}
		output, err = gocv.Mat{}, ErrNotLoaded
	}
	req.output = output
	req.err = err
	close(req.done)
	s.slotsMutex.Unlock()

	if last {
		if err := s.close(); err != nil {
			s.logger.Warning("Failed to close detection network: %v", err)
		}
	}
}

func (s *DetectorService) close() error {
	s.netMutex.Lock()
	defer s.netMutex.Unlock()
	return s.closeNet()
}

func (s *DetectorService) isLoaded() bool {
	s.slotsMutex.Lock()
	defer s.slotsMutex.Unlock()
	return s.loaded
}
