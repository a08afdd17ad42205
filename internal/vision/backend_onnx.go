package vision

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures an ONNX classifier session. Empty names are read
// from the model file.
type ONNXOptions struct {
	InputName      string
	OutputName     string
	IntraOpThreads int
}

// ONNXBackend runs a classifier with ONNX Runtime. DynamicAdvancedSession.Run
// is safe for concurrent use, so every call allocates its own tensors.
type ONNXBackend struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
	classes     int
}

// NewONNXBackend loads the model at modelPath for domain.
func NewONNXBackend(modelPath string, domain Domain, opts ONNXOptions) (*ONNXBackend, error) {
	inputName, outputName := opts.InputName, opts.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", modelPath, err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("model %s declares no inputs or outputs", modelPath)
		}
		if inputName == "" {
			inputName = inputs[0].Name
		}
		if outputName == "" {
			outputName = outputs[0].Name
		}
	}

	var sessOpts *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		so, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("create session options: %w", err)
		}
		defer so.Destroy()
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
		sessOpts = so
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName},
		[]string{outputName},
		sessOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", domain, err)
	}

	return &ONNXBackend{
		session:     session,
		inputShape:  ort.NewShape(domain.InputShape().Int64()...),
		outputShape: ort.NewShape(1, int64(domain.Classes())),
		classes:     domain.Classes(),
	}, nil
}

// Run executes one forward pass. Input and output tensors are destroyed
// before returning; the returned slice is a copy.
func (b *ONNXBackend) Run(input []float32) ([]float32, error) {
	inputTensor, err := ort.NewTensor(b.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](b.outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := b.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	data := outputTensor.GetData()
	probs := make([]float32, len(data))
	copy(probs, data)
	return probs, nil
}

func (b *ONNXBackend) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Destroy()
}

// InitONNX points ONNX Runtime at its shared library and initializes the
// environment. The returned func tears it down. When the environment is
// already up, InitONNX is a no-op and so is its release func.
func InitONNX(libPath string) (func(), error) {
	if ort.IsInitialized() {
		return func() {}, nil
	}
	if libPath == "" {
		libPath = defaultONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

// defaultONNXLibPath returns the ONNX Runtime shared library name
// based on the operating system.
func defaultONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
