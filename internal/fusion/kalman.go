// Package fusion blends GPS and vehicle-bus speed with a scalar
// constant-value Kalman filter.
package fusion

const (
	InitialCovariance = 10.0
	ProcessNoise      = 0.05
	OBDNoise          = 1.5
)

// Inputs is one tick's worth of speed measurements.
type Inputs struct {
	GPSValid   bool
	GPSSpeedMS float64
	HDOP       float64

	OBDConnected bool
	OBDSpeedMS   float64
}

// Speed is the published estimate.
type Speed struct {
	MS         float64 `json:"ms"`
	Covariance float64 `json:"covariance"`
	Confidence int     `json:"confidence"`
}

func (s Speed) KMH() float64 { return s.MS * 3.6 }

// Kalman is the scalar estimator. Covariance never goes negative.
type Kalman struct {
	X float64
	P float64
	Q float64
}

func NewKalman() *Kalman {
	return &Kalman{P: InitialCovariance, Q: ProcessNoise}
}

func (k *Kalman) Predict() { k.P += k.Q }

// Update folds in measurement z with noise r and returns the gain used.
func (k *Kalman) Update(z, r float64) float64 {
	gain := k.P / (k.P + r)
	k.X += gain * (z - k.X)
	k.P = (1 - gain) * k.P
	if k.P < 0 {
		k.P = 0
	}
	return gain
}

// GPSNoise is R = 1 + HDOP, never below 1. An unknown (non-positive) HDOP
// counts as 1.
func GPSNoise(hdop float64) float64 {
	if hdop <= 0 {
		hdop = 1
	}
	r := 1 + hdop
	if r < 1 {
		r = 1
	}
	return r
}

// Confidence is a tiered 0..100 heuristic.
func Confidence(in Inputs) int {
	c := 0
	if in.GPSValid {
		switch {
		case in.HDOP < 0.8:
			c += 50
		case in.HDOP < 1.5:
			c += 35
		default:
			c += 20
		}
	}
	if in.OBDConnected {
		c += 30
	}
	if c > 100 {
		c = 100
	}
	return c
}

// Step predicts, then updates with GPS and then the vehicle bus.
func (k *Kalman) Step(in Inputs) Speed {
	k.Predict()
	if in.GPSValid {
		k.Update(in.GPSSpeedMS, GPSNoise(in.HDOP))
	}
	if in.OBDConnected {
		k.Update(in.OBDSpeedMS, OBDNoise)
	}
	return Speed{MS: k.X, Covariance: k.P, Confidence: Confidence(in)}
}
