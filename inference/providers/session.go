package providers

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/models/model"
)

var envMu sync.Mutex

// InitializeEnvironment loads the ONNX Runtime shared library once per process.
//
// Arguments:
//   - libPath: The shared library path. Empty uses GetSharedLibPath.
//
// Returns:
//   - error: An error if the library is missing or fails to load.
func InitializeEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath == "" {
		p, err := GetSharedLibPath()
		if err != nil {
			return err
		}
		libPath = p
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// NewSessionArgs represents the arguments for creating a new session.
type NewSessionArgs struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// LibraryPath is the ONNX Runtime shared library. Empty uses the platform default.
	LibraryPath string
	// Input is the name of the image input.
	Input string
	// InputShape is the shape of the image input, batch first.
	InputShape tensor.Shape
	// Outputs are the names of the output tensors.
	Outputs []string
	// OutputShapes are the output shapes, index-aligned with Outputs.
	OutputShapes []tensor.Shape
	// IntraOpThreads sets threads used inside an operator. Zero lets ONNX Runtime decide.
	IntraOpThreads int
	// InterOpThreads sets threads used across independent operators.
	InterOpThreads int
}

// Validate checks the arguments.
func (a NewSessionArgs) Validate() error {
	if a.ModelPath == "" {
		return errors.New("model path is required")
	}
	if a.Input == "" || len(a.InputShape) == 0 {
		return errors.New("input name and shape are required")
	}
	if len(a.Outputs) == 0 {
		return errors.New("at least one output is required")
	}
	if len(a.Outputs) != len(a.OutputShapes) {
		return errors.Errorf("%d outputs but %d output shapes", len(a.Outputs), len(a.OutputShapes))
	}
	return nil
}

func toShape(s tensor.Shape) ort.Shape {
	dims := make([]int64, len(s))
	for i, d := range s {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}

// Session is an ONNX Runtime session with preallocated input and output
// tensors. Run is not safe for concurrent use: every call overwrites the
// same buffers.
type Session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	layers  []model.Layer
	mu      sync.Mutex
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Tensor allocation: prepares fixed-shape buffers for input and outputs.
//  3. Session options: threading, graph optimization and the execution provider.
//  4. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - provider: The execution provider for the session.
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session. Close releases the native resources.
//   - error: An error if the session creation fails.
func NewSession(provider ExecutionProvider, args NewSessionArgs) (_ *Session, err error) {
	if provider == nil {
		return nil, errors.New("execution provider is required")
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if err := InitializeEnvironment(args.LibraryPath); err != nil {
		return nil, err
	}

	sess := &Session{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, sess.Close())
		}
	}()

	sess.input, err = ort.NewEmptyTensor[float32](toShape(args.InputShape))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputs := make([]ort.Value, 0, len(args.Outputs))
	for i, name := range args.Outputs {
		out, err := ort.NewEmptyTensor[float32](toShape(args.OutputShapes[i]))
		if err != nil {
			return nil, errors.Wrapf(err, "error creating output tensor %q", name)
		}
		sess.outputs = append(sess.outputs, out)
		outputs = append(outputs, out)
		sess.layers = append(sess.layers, model.Layer{
			Name: name,
			Dims: args.OutputShapes[i].Clone(),
			Data: out.GetData(),
		})
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(args.IntraOpThreads); err != nil {
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(args.InterOpThreads); err != nil {
		return nil, errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	if err := provider.Append(options); err != nil {
		return nil, err
	}

	sess.session, err = ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.Input},
		args.Outputs,
		[]ort.Value{sess.input},
		outputs,
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}
	return sess, nil
}

// Input returns the input buffer. Write the preprocessed image here before Run.
func (s *Session) Input() []float32 {
	return s.input.GetData()
}

// Run executes the network. Use Infer when the session is shared.
func (s *Session) Run() error {
	if s.session == nil {
		return errors.New("session is closed")
	}
	return s.session.Run()
}

// Layers returns the output tensors as named layers. The data is owned by the
// session and is overwritten by the next Run.
func (s *Session) Layers() []model.Layer {
	return s.layers
}

// Infer fills the input, runs the network and hands the outputs to fn while
// holding the session, so concurrent callers never see each other's buffers.
//
// Arguments:
//   - fill: Writes the network input into the given buffer.
//   - fn: Consumes the output layers. They are only valid during the call.
//
// Returns:
//   - error: The first error of fill, Run or fn.
func (s *Session) Infer(fill func(input []float32) error, fn func(layers []model.Layer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fill(s.Input()); err != nil {
		return err
	}
	if err := s.Run(); err != nil {
		return errors.Wrap(err, "error running ORT session")
	}
	return fn(s.layers)
}

// Close releases the resources associated with the Session.
//
// Returns:
//   - error: The combined errors of every released resource.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	if s.input != nil {
		err = multierr.Append(err, s.input.Destroy())
		s.input = nil
	}
	for _, out := range s.outputs {
		err = multierr.Append(err, out.Destroy())
	}
	s.outputs = nil
	s.layers = nil
	return err
}
