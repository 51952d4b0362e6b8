// Package optimizer implements gradient-based parameter update rules. Steps
// take a closure so an update can re-evaluate the loss after zeroing
// gradients, which is what closure-based training loops need.
package optimizer

import (
	"fmt"
	"math"

	"github.com/vloison/skada/tensor"
)

// Closure recomputes the loss and gradients for the current parameters.
// It returns the loss value it computed.
type Closure func() (float64, error)

// Optimizer is the interface all parameter update rules implement.
type Optimizer interface {
	// Step invokes the closure to compute loss and gradients, then
	// applies one update to all parameters. It returns the loss the
	// closure reported.
	Step(closure Closure) (float64, error)
	// ZeroGrad clears the gradients of all managed parameters.
	ZeroGrad()
	// Parameters returns the managed parameters.
	Parameters() []*tensor.Tensor
	GetLR() float64
	SetLR(lr float64)
}

// SGD implements stochastic gradient descent with optional momentum,
// Nesterov acceleration, dampening and weight decay.
type SGD struct {
	parameters  []*tensor.Tensor
	lr          float64
	momentum    float64
	weightDecay float64
	dampening   float64
	nesterov    bool
	velocities  map[*tensor.Tensor][]float32
}

// SGDConfig holds the SGD hyperparameters.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Dampening   float64
	Nesterov    bool
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(parameters []*tensor.Tensor, cfg SGDConfig) (*SGD, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", cfg.LR)
	}
	if cfg.Nesterov && (cfg.Momentum <= 0 || cfg.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}
	return &SGD{
		parameters:  parameters,
		lr:          cfg.LR,
		momentum:    cfg.Momentum,
		weightDecay: cfg.WeightDecay,
		dampening:   cfg.Dampening,
		nesterov:    cfg.Nesterov,
		velocities:  make(map[*tensor.Tensor][]float32),
	}, nil
}

func (sgd *SGD) Step(closure Closure) (float64, error) {
	if closure == nil {
		return 0, fmt.Errorf("step requires a closure")
	}
	loss, err := closure()
	if err != nil {
		return 0, fmt.Errorf("closure failed: %v", err)
	}

	for _, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("gradient access failed: %v", err)
		}
		paramData, err := param.GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("parameter access failed: %v", err)
		}

		grad := make([]float32, len(gradData))
		copy(grad, gradData)

		if sgd.weightDecay > 0 {
			wd := float32(sgd.weightDecay)
			for i := range grad {
				grad[i] += wd * paramData[i]
			}
		}

		if sgd.momentum > 0 {
			velocity, ok := sgd.velocities[param]
			if !ok {
				velocity = make([]float32, len(grad))
				sgd.velocities[param] = velocity
			}
			mom := float32(sgd.momentum)
			damp := float32(1.0 - sgd.dampening)
			for i := range velocity {
				velocity[i] = mom*velocity[i] + damp*grad[i]
			}
			if sgd.nesterov {
				for i := range grad {
					grad[i] += mom * velocity[i]
				}
			} else {
				copy(grad, velocity)
			}
		}

		lr := float32(sgd.lr)
		for i := range paramData {
			paramData[i] -= lr * grad[i]
		}
	}

	return loss, nil
}

func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

func (sgd *SGD) Parameters() []*tensor.Tensor {
	return sgd.parameters
}

func (sgd *SGD) GetLR() float64 {
	return sgd.lr
}

func (sgd *SGD) SetLR(lr float64) {
	sgd.lr = lr
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m           map[*tensor.Tensor][]float32
	v           map[*tensor.Tensor][]float32
}

// AdamConfig holds the Adam hyperparameters. Zero values for Beta1, Beta2
// and Eps select the standard defaults (0.9, 0.999, 1e-8).
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// NewAdam creates an Adam optimizer over the given parameters.
func NewAdam(parameters []*tensor.Tensor, cfg AdamConfig) (*Adam, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", cfg.LR)
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam{
		parameters:  parameters,
		lr:          cfg.LR,
		beta1:       cfg.Beta1,
		beta2:       cfg.Beta2,
		eps:         cfg.Eps,
		weightDecay: cfg.WeightDecay,
		m:           make(map[*tensor.Tensor][]float32),
		v:           make(map[*tensor.Tensor][]float32),
	}, nil
}

func (adam *Adam) Step(closure Closure) (float64, error) {
	if closure == nil {
		return 0, fmt.Errorf("step requires a closure")
	}
	loss, err := closure()
	if err != nil {
		return 0, fmt.Errorf("closure failed: %v", err)
	}

	adam.step++
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("gradient access failed: %v", err)
		}
		paramData, err := param.GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("parameter access failed: %v", err)
		}

		m, ok := adam.m[param]
		if !ok {
			m = make([]float32, len(gradData))
			adam.m[param] = m
		}
		v, ok := adam.v[param]
		if !ok {
			v = make([]float32, len(gradData))
			adam.v[param] = v
		}

		b1 := float32(adam.beta1)
		b2 := float32(adam.beta2)
		wd := float32(adam.weightDecay)
		for i := range paramData {
			g := gradData[i]
			if adam.weightDecay > 0 {
				g += wd * paramData[i]
			}

			m[i] = b1*m[i] + (1.0-b1)*g
			v[i] = b2*v[i] + (1.0-b2)*g*g

			mHat := float64(m[i]) / bias1
			vHat := float64(v[i]) / bias2
			paramData[i] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}

	return loss, nil
}

func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

func (adam *Adam) Parameters() []*tensor.Tensor {
	return adam.parameters
}

func (adam *Adam) GetLR() float64 {
	return adam.lr
}

func (adam *Adam) SetLR(lr float64) {
	adam.lr = lr
}
