package l3tracks

import "math"

// The per-track estimator is a constant-acceleration Kalman filter over
// state [range, radial velocity, radial acceleration]. Matrices are small
// and fixed-size, so everything is hand-rolled row-major arithmetic.

// predict applies the Kalman prediction step:
//
//	F = [1  dt  dt²/2]
//	    [0  1   dt   ]
//	    [0  0   1    ]
//
// with the standard discretised constant-acceleration process noise
// Q = q·[[dt⁵/20, dt⁴/8, dt³/6], [dt⁴/8, dt³/3, dt²/2], [dt³/6, dt²/2, dt]].
func predict(tr *Track, dt, processNoiseAccel float64) {
	h := dt * dt / 2

	// State: x' = F·x
	tr.Range += tr.Velocity*dt + tr.Accel*h
	tr.Velocity += tr.Accel * dt
	// Acceleration unchanged.

	// Covariance: P' = F·P·Fᵀ + Q.
	// FP row 0: P[0,j] + dt·P[1,j] + h·P[2,j]
	// FP row 1: P[1,j] + dt·P[2,j]
	// FP row 2: P[2,j]
	P := tr.P
	var FP [9]float64
	for j := 0; j < 3; j++ {
		FP[0*3+j] = P[0*3+j] + dt*P[1*3+j] + h*P[2*3+j]
		FP[1*3+j] = P[1*3+j] + dt*P[2*3+j]
		FP[2*3+j] = P[2*3+j]
	}
	for i := 0; i < 3; i++ {
		tr.P[i*3+0] = FP[i*3+0] + dt*FP[i*3+1] + h*FP[i*3+2]
		tr.P[i*3+1] = FP[i*3+1] + dt*FP[i*3+2]
		tr.P[i*3+2] = FP[i*3+2]
	}

	q := processNoiseAccel
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	dt5 := dt4 * dt
	tr.P[0*3+0] += q * dt5 / 20
	tr.P[0*3+1] += q * dt4 / 8
	tr.P[0*3+2] += q * dt3 / 6
	tr.P[1*3+0] += q * dt4 / 8
	tr.P[1*3+1] += q * dt3 / 3
	tr.P[1*3+2] += q * dt2 / 2
	tr.P[2*3+0] += q * dt3 / 6
	tr.P[2*3+1] += q * dt2 / 2
	tr.P[2*3+2] += q * dt
}

// innovation returns the 2x2 innovation covariance S = H·P·Hᵀ + R and its
// determinant for the position/velocity measurement model
// H = [1 0 0; 0 1 0], R = diag(rangeNoise, velocityNoise).
func innovation(tr *Track, rangeNoise, velocityNoise float64) (s00, s01, s10, s11, det float64) {
	s00 = tr.P[0*3+0] + rangeNoise
	s01 = tr.P[0*3+1]
	s10 = tr.P[1*3+0]
	s11 = tr.P[1*3+1] + velocityNoise
	det = s00*s11 - s01*s10
	return
}

// mahalanobisSquared computes the squared Mahalanobis distance between the
// track's predicted measurement and an observation. A singular innovation
// covariance yields the rejection distance so the pair never associates.
func mahalanobisSquared(tr *Track, obs Observation, rangeNoise, velocityNoise float64) float64 {
	dy0 := obs.RangeMeters - tr.Range
	dy1 := obs.VelocityMps - tr.Velocity

	s00, s01, s10, s11, det := innovation(tr, rangeNoise, velocityNoise)
	if det < MinDeterminantThreshold {
		return SingularDistanceRejection
	}

	inv00 := s11 / det
	inv01 := -s01 / det
	inv10 := -s10 / det
	inv11 := s00 / det

	return dy0*dy0*inv00 + dy0*dy1*(inv01+inv10) + dy1*dy1*inv11
}

// correct applies the Kalman update step with an associated observation,
// using the Joseph-form covariance update
// P' = (I−KH)·P·(I−KH)ᵀ + K·R·Kᵀ for numerical stability.
// Returns false when the innovation covariance is singular, in which case
// the track state is left untouched.
func correct(tr *Track, obs Observation, rangeNoise, velocityNoise float64) bool {
	dy0 := obs.RangeMeters - tr.Range
	dy1 := obs.VelocityMps - tr.Velocity

	s00, s01, s10, s11, det := innovation(tr, rangeNoise, velocityNoise)
	if det < MinDeterminantThreshold {
		return false
	}

	inv00 := s11 / det
	inv01 := -s01 / det
	inv10 := -s10 / det
	inv11 := s00 / det

	// Kalman gain K = P·Hᵀ·S⁻¹ (3x2): K[i,0] = P[i,0]·inv00 + P[i,1]·inv10.
	var K [6]float64
	for i := 0; i < 3; i++ {
		K[i*2+0] = tr.P[i*3+0]*inv00 + tr.P[i*3+1]*inv10
		K[i*2+1] = tr.P[i*3+0]*inv01 + tr.P[i*3+1]*inv11
	}

	tr.Range += K[0*2+0]*dy0 + K[0*2+1]*dy1
	tr.Velocity += K[1*2+0]*dy0 + K[1*2+1]*dy1
	tr.Accel += K[2*2+0]*dy0 + K[2*2+1]*dy1

	// A = I − K·H: column 0 and 1 of the identity minus the gain columns.
	var A [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := 0.0
			if i == j {
				v = 1
			}
			if j == 0 {
				v -= K[i*2+0]
			} else if j == 1 {
				v -= K[i*2+1]
			}
			A[i*3+j] = v
		}
	}

	// AP = A·P, then P' = AP·Aᵀ + K·R·Kᵀ.
	var AP [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += A[i*3+k] * tr.P[k*3+j]
			}
			AP[i*3+j] = sum
		}
	}
	var newP [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += AP[i*3+k] * A[j*3+k]
			}
			sum += K[i*2+0]*K[j*2+0]*rangeNoise + K[i*2+1]*K[j*2+1]*velocityNoise
			newP[i*3+j] = sum
		}
	}
	tr.P = newP
	return true
}

// isFiniteState reports whether every element of the state vector and the
// covariance diagonal is finite. Used as a post-predict/correct guard
// against numerical instability.
func isFiniteState(tr *Track) bool {
	for _, v := range []float64{tr.Range, tr.Velocity, tr.Accel} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < 3; i++ {
		v := tr.P[i*3+i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
