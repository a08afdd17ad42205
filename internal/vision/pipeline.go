package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"
)

// Models holds one classifier per domain. Handles are loaded once at startup
// and shared read-only between concurrent analyses.
type Models struct {
	Age        Classifier
	Gender     Classifier
	Expression Classifier
}

// For returns the classifier of domain d, or nil.
func (m Models) For(d Domain) Classifier {
	switch d {
	case DomainAge:
		return m.Age
	case DomainGender:
		return m.Gender
	case DomainExpression:
		return m.Expression
	default:
		return nil
	}
}

// Ready reports ErrModelNotLoaded for every domain without a classifier.
func (m Models) Ready() error {
	var errs []error
	for _, d := range Domains {
		if m.For(d) == nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, ErrModelNotLoaded))
		}
	}
	return errors.Join(errs...)
}

// AnalysisResult aggregates the three domain predictions for one face.
type AnalysisResult struct {
	Age              Prediction      `json:"age"`
	Gender           Prediction      `json:"gender"`
	Expression       Prediction      `json:"expression"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	FaceCoordinates  FaceBoundingBox `json:"face_coordinates"`
	FacesDetected    int             `json:"faces_detected"`
}

// Prediction returns the result of domain d.
func (r *AnalysisResult) Prediction(d Domain) Prediction {
	switch d {
	case DomainAge:
		return r.Age
	case DomainGender:
		return r.Gender
	default:
		return r.Expression
	}
}

// AnalyzerOptions tunes the orchestration.
type AnalyzerOptions struct {
	// Sequential runs domains one after another instead of concurrently.
	Sequential bool
	// DomainTimeout bounds each domain's inference. Zero disables it.
	DomainTimeout time.Duration
	// CropPadding is the box expansion ratio; negative means DefaultCropPadding.
	CropPadding float64
}

// Analyzer sequences preprocessing, the three classifiers and interpretation:
// decode → crop → {tensorize → predict → interpret} per domain → aggregate.
type Analyzer struct {
	pre       *Preprocessor
	models    Models
	opts      AnalyzerOptions
	observers []Observer
	now       func() time.Time
}

// NewAnalyzer builds an analyzer over models. Observers must be safe for
// concurrent use.
func NewAnalyzer(models Models, opts AnalyzerOptions, observers ...Observer) *Analyzer {
	return &Analyzer{
		pre:       NewPreprocessor(opts.CropPadding),
		models:    models,
		opts:      opts,
		observers: observers,
		now:       time.Now,
	}
}

// Preprocessor exposes the analyzer's crop settings.
func (a *Analyzer) Preprocessor() *Preprocessor {
	return a.pre
}

// Analyze runs the full pipeline on the primary face of boxes (largest area).
// Every failure is returned as *AnalysisFailedError and no partial result is
// ever produced.
func (a *Analyzer) Analyze(ctx context.Context, frame *Frame, boxes []FaceBoundingBox) (*AnalysisResult, error) {
	start := a.now()

	if len(boxes) == 0 {
		return nil, a.fail(start, &AnalysisFailedError{Stage: StageStart, Err: ErrNoFaceDetected})
	}
	if err := ctx.Err(); err != nil {
		return nil, a.fail(start, &AnalysisFailedError{Stage: StageStart, Err: cancelled(err)})
	}
	a.emit(StageEvent{Stage: StageStart})

	box := boxes[SelectPrimaryFace(boxes)]

	img, err := frame.Decode()
	if err != nil {
		return nil, a.fail(start, &AnalysisFailedError{Stage: StageCropped, Err: err})
	}
	region, err := a.pre.CropRegion(img.Bounds(), box)
	if err != nil {
		return nil, a.fail(start, &AnalysisFailedError{Stage: StageCropped, Err: err})
	}
	a.emit(StageEvent{Stage: StageCropped, Elapsed: a.now().Sub(start)})

	preds := make([]Prediction, len(Domains))

	if a.opts.Sequential {
		for i, d := range Domains {
			p, err := a.runDomain(ctx, ctx, img, region, d, start)
			if err != nil {
				return nil, a.fail(start, err)
			}
			preds[i] = p
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, d := range Domains {
			g.Go(func() error {
				p, err := a.runDomain(ctx, gctx, img, region, d, start)
				if err != nil {
					return err
				}
				preds[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, a.fail(start, err)
		}
	}

	elapsed := a.now().Sub(start)
	a.emit(StageEvent{Stage: StageAggregated, Elapsed: elapsed})

	result := &AnalysisResult{
		Age:              preds[0],
		Gender:           preds[1],
		Expression:       preds[2],
		ProcessingTimeMs: durationMs(elapsed),
		FaceCoordinates:  box,
		FacesDetected:    len(boxes),
	}

	a.emit(StageEvent{Stage: StageDone, Elapsed: elapsed})
	return result, nil
}

// runDomain tensorizes, predicts and interprets one domain. parent is the
// caller's context, used to tell cancellation apart from sibling failures.
func (a *Analyzer) runDomain(parent, ctx context.Context, img image.Image, region image.Rectangle, d Domain, start time.Time) (Prediction, error) {
	cls := a.models.For(d)
	if cls == nil {
		return Prediction{}, &AnalysisFailedError{Domain: d, Stage: StagePredicted, Err: ErrModelNotLoaded}
	}

	t, err := Tensorize(img, region, d.InputSize(), d.Channels())
	if err != nil {
		return Prediction{}, &AnalysisFailedError{Domain: d, Stage: StageTensorized, Err: err}
	}
	a.emit(StageEvent{Stage: StageTensorized, Domain: d, Elapsed: a.now().Sub(start)})

	if a.opts.DomainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.DomainTimeout)
		defer cancel()
	}

	inferStart := a.now()
	probs, err := cls.Predict(ctx, t)
	if err != nil {
		return Prediction{}, &AnalysisFailedError{Domain: d, Stage: StagePredicted, Err: a.classify(parent, err)}
	}

	pred, err := Interpret(d, probs)
	if err != nil {
		return Prediction{}, &AnalysisFailedError{Domain: d, Stage: StagePredicted, Err: err}
	}
	inference := a.now().Sub(inferStart)
	pred.InferenceMs = durationMs(inference)

	a.emit(StageEvent{Stage: StagePredicted, Domain: d, Elapsed: a.now().Sub(start), Inference: inference})
	return pred, nil
}

// classify maps context errors onto ErrCancelled / ErrTimeout.
func (a *Analyzer) classify(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return cancelled(perr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, a.opts.DomainTimeout, err)
	}
	return err
}

func (a *Analyzer) fail(start time.Time, err error) error {
	var afe *AnalysisFailedError
	if !errors.As(err, &afe) {
		afe = &AnalysisFailedError{Stage: StageAggregated, Err: err}
	}
	a.emit(StageEvent{Stage: StageFailed, Domain: afe.Domain, Elapsed: a.now().Sub(start), Err: afe})
	return afe
}

func (a *Analyzer) emit(ev StageEvent) {
	for _, o := range a.observers {
		o.OnStage(ev)
	}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
