package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"peoplecounter/internal/detection"
)

// CameraInput selects the default capture device instead of a file.
const CameraInput = "CAM"

type Config struct {
	ModelPath       string  `yaml:"model"`
	ModelConfigPath string  `yaml:"model_config"`
	Device          string  `yaml:"device"`
	CPUExtension    string  `yaml:"cpu_extension"`
	Input           string  `yaml:"input"`
	ProbThreshold   float64 `yaml:"prob_threshold"`
	PersonClassID   int     `yaml:"person_class_id"`
	PerfCounts      bool    `yaml:"perf_counts"`

	InputWidth       int           `yaml:"input_width"`
	InputHeight      int           `yaml:"input_height"`
	BlobScale        float64       `yaml:"blob_scale"`
	BlobMean         float64       `yaml:"blob_mean"`
	SwapRB           bool          `yaml:"swap_rb"`
	NumRequests      int           `yaml:"num_requests"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	MQTTHost        string        `yaml:"mqtt_host"`
	MQTTPort        int           `yaml:"mqtt_port"`
	MQTTKeepAlive   time.Duration `yaml:"mqtt_keepalive"`
	MQTTClientID    string        `yaml:"mqtt_client_id"`
	MQTTTopicPrefix string        `yaml:"mqtt_topic_prefix"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`

	EgressURL   string `yaml:"egress_url"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	OutputImage string `yaml:"output_image"`

	HTTPPort int    `yaml:"http_port"`
	APIToken string `yaml:"api_token"`

	StreamID              string        `yaml:"stream_id"`
	DatabasePath          string        `yaml:"db_path"`
	RecorderBufferLimit   int           `yaml:"recorder_buffer"`
	RecorderFlushInterval time.Duration `yaml:"recorder_flush_interval"`

	LogDirectory string `yaml:"log_dir"`
	Debug        bool   `yaml:"debug"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Device:                "CPU",
		ProbThreshold:         detection.DefaultThreshold,
		PersonClassID:         -1,
		InputWidth:            300,
		InputHeight:           300,
		BlobScale:             1.0,
		NumRequests:           1,
		MQTTHost:              localAddress(),
		MQTTPort:              1884,
		MQTTKeepAlive:         60 * time.Second,
		PublishTimeout:        2 * time.Second,
		EgressURL:             "http://localhost:8090/fac.ffm",
		FFmpegPath:            "ffmpeg",
		OutputImage:           "output_image.jpg",
		HTTPPort:              3004,
		DatabasePath:          filepath.Join(".", "data", "occupancy.db"),
		RecorderBufferLimit:   64,
		RecorderFlushInterval: 10 * time.Second,
		LogDirectory:          filepath.Join(".", "logs"),
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, the environment (including a .env file) and command line args,
// in that order of precedence.
func Load(args ...string) (*Config, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.applyFlags(args); err != nil {
		return nil, err
	}

	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "people-counter-" + uuid.NewString()
	}
	if cfg.StreamID == "" {
		cfg.StreamID = uuid.NewString()
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ModelPath = getEnv("MODEL", c.ModelPath)
	c.ModelConfigPath = getEnv("MODEL_CONFIG", c.ModelConfigPath)
	c.Device = strings.ToUpper(getEnv("DEVICE", c.Device))
	c.CPUExtension = getEnv("CPU_EXTENSION", c.CPUExtension)
	c.Input = getEnv("INPUT", c.Input)
	c.ProbThreshold = detection.NormalizeThreshold(getEnvAsFloat("PROB_THRESHOLD", c.ProbThreshold))
	c.PersonClassID = getEnvAsInt("PERSON_CLASS_ID", c.PersonClassID)
	c.PerfCounts = getEnvAsBool("PERF_COUNTS", c.PerfCounts)

	c.InputWidth = getEnvAsInt("INPUT_WIDTH", c.InputWidth)
	c.InputHeight = getEnvAsInt("INPUT_HEIGHT", c.InputHeight)
	c.BlobScale = getEnvAsFloat("BLOB_SCALE", c.BlobScale)
	c.BlobMean = getEnvAsFloat("BLOB_MEAN", c.BlobMean)
	c.SwapRB = getEnvAsBool("SWAP_RB", c.SwapRB)
	c.NumRequests = getEnvAsInt("NUM_REQUESTS", c.NumRequests)
	c.InferenceTimeout = getEnvAsDuration("INFERENCE_TIMEOUT", c.InferenceTimeout)

	c.MQTTHost = getEnvOptional("MQTT_HOST", c.MQTTHost)
	c.MQTTPort = getEnvAsInt("MQTT_PORT", c.MQTTPort)
	c.MQTTKeepAlive = getEnvAsDuration("MQTT_KEEPALIVE", c.MQTTKeepAlive)
	c.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTTopicPrefix = getEnv("MQTT_TOPIC_PREFIX", c.MQTTTopicPrefix)
	c.PublishTimeout = getEnvAsDuration("PUBLISH_TIMEOUT", c.PublishTimeout)

	c.EgressURL = getEnvOptional("EGRESS_URL", c.EgressURL)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.OutputImage = getEnv("OUTPUT_IMAGE", c.OutputImage)

	c.HTTPPort = getEnvAsInt("HTTP_PORT", c.HTTPPort)
	c.APIToken = getEnv("API_TOKEN", c.APIToken)

	c.StreamID = getEnv("STREAM_ID", c.StreamID)
	c.DatabasePath = getEnvOptional("DB_PATH", c.DatabasePath)
	c.RecorderBufferLimit = getEnvAsInt("RECORDER_BUFFER", c.RecorderBufferLimit)
	c.RecorderFlushInterval = getEnvAsDuration("RECORDER_FLUSH_INTERVAL", c.RecorderFlushInterval)

	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
	c.Debug = getEnvAsBool("DEBUG", c.Debug)
}

// applyFlags parses the short command line options of the counter.
func (c *Config) applyFlags(args []string) error {
	if len(args) == 0 {
		return nil
	}

	fs := flag.NewFlagSet("peoplecounter", flag.ContinueOnError)
	fs.StringVar(&c.ModelPath, "m", c.ModelPath, "path to the model file (.xml IR, .pb, .onnx, ...)")
	fs.StringVar(&c.Input, "i", c.Input, "path to image or video file, or CAM")
	fs.StringVar(&c.Device, "d", c.Device, "target device: CPU, GPU, GPU_FP16, MYRIAD or CUDA")
	fs.StringVar(&c.CPUExtension, "l", c.CPUExtension, "CPU extension library (not applied by OpenCV DNN)")
	threshold := fs.String("pt", "", "probability threshold for detections")
	fs.BoolVar(&c.PerfCounts, "pc", c.PerfCounts, "print performance counters")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	if *threshold != "" {
		c.ProbThreshold = parseFloat(*threshold, detection.DefaultThreshold)
	}
	c.Device = strings.ToUpper(c.Device)
	c.ProbThreshold = detection.NormalizeThreshold(c.ProbThreshold)
	return nil
}

// MQTTBroker returns the broker address in paho form.
func (c *Config) MQTTBroker() string {
	return fmt.Sprintf("tcp://%s", net.JoinHostPort(c.MQTTHost, strconv.Itoa(c.MQTTPort)))
}

// DetectionOptions returns the filter settings derived from the configuration.
func (c *Config) DetectionOptions() detection.Options {
	return detection.Options{
		Threshold: detection.NormalizeThreshold(c.ProbThreshold),
		ClassID:   c.PersonClassID,
	}
}

// IsCamera reports whether the input selects the default capture device.
func (c *Config) IsCamera() bool {
	return strings.EqualFold(c.Input, CameraInput) || strings.EqualFold(c.Input, "camera")
}

// IsStillImage reports whether the input is a single image rather than a stream.
func (c *Config) IsStillImage() bool {
	return IsImagePath(c.Input)
}

// IsImagePath reports whether path names a still image by its extension.
func IsImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".bmp", ".png":
		return true
	}
	return false
}

// localAddress resolves this host's address the way the broker is usually co-located.
func localAddress() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return "localhost"
	}
	return addrs[0]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOptional is getEnv for settings where an explicitly empty value
// disables the feature.
func getEnvOptional(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		return parseFloat(value, defaultValue)
	}
	return defaultValue
}

func parseFloat(value string, defaultValue float64) float64 {
	if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
		return floatValue
	}
	return defaultValue
}

// getEnvAsBool accepts strconv booleans and positive integers.
func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue > 0
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms") or plain seconds ("60").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}
