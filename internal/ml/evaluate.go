package ml

import (
	"errors"
	"math"
)

// MetricVector maps metric name to value. The key set is fixed per family;
// a metric that is undefined for a given result (e.g. silhouette of a
// single-cluster labeling) is an absent key, never a numeric default.
type MetricVector map[string]float64

// Regression metric names.
const (
	MetricR2       = "r2_test"
	MetricRMSE     = "rmse"
	MetricMAE      = "mae"
	MetricCVR2Mean = "cv_r2_mean"
	MetricCVR2Std  = "cv_r2_std"
)

// Clustering metric names.
const (
	MetricSilhouette       = "silhouette"
	MetricDaviesBouldin    = "davies_bouldin"
	MetricCalinskiHarabasz = "calinski_harabasz"
	MetricNClusters        = "n_clusters"
	MetricNoiseRatio       = "noise_ratio"
)

// EvaluateRegression computes the fixed regression metric vector for a
// fitted estimator: test-set R², RMSE and MAE plus k-fold cross-validated
// R² over the training split. factory builds a fresh estimator of the same
// configuration for each CV fold.
func EvaluateRegression(fitted Estimator, factory func() Estimator,
	XTrain [][]float64, yTrain []float64, XTest [][]float64, yTest []float64,
	folds int) (MetricVector, error) {

	if len(XTest) == 0 {
		return nil, errors.New("empty test set")
	}

	preds := make([]float64, len(XTest))
	for i, x := range XTest {
		p, err := fitted.Predict(x)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}

	mv := MetricVector{
		MetricR2:   r2Score(yTest, preds),
		MetricRMSE: rmse(yTest, preds),
		MetricMAE:  mae(yTest, preds),
	}

	cvMean, cvStd, err := crossValidateR2(factory, XTrain, yTrain, folds)
	if err == nil {
		mv[MetricCVR2Mean] = cvMean
		mv[MetricCVR2Std] = cvStd
	}

	return mv, nil
}

// crossValidateR2 runs k-fold CV over the training split. Folds are
// contiguous slices of the (already shuffled) training order, so fold
// assignment is deterministic.
func crossValidateR2(factory func() Estimator, X [][]float64, y []float64, folds int) (mean, std float64, err error) {
	if folds < 2 {
		folds = 5
	}
	if len(X) < folds {
		return 0, 0, errors.New("too few training rows for cross-validation")
	}

	scores := make([]float64, 0, folds)
	foldSize := len(X) / folds
	for f := 0; f < folds; f++ {
		lo := f * foldSize
		hi := lo + foldSize
		if f == folds-1 {
			hi = len(X)
		}

		var trainX, valX [][]float64
		var trainY, valY []float64
		for i := range X {
			if i >= lo && i < hi {
				valX = append(valX, X[i])
				valY = append(valY, y[i])
			} else {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}

		est := factory()
		if err := est.Fit(trainX, trainY); err != nil {
			return 0, 0, err
		}
		preds := make([]float64, len(valX))
		for i, x := range valX {
			p, err := est.Predict(x)
			if err != nil {
				return 0, 0, err
			}
			preds[i] = p
		}
		scores = append(scores, r2Score(valY, preds))
	}

	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	for _, s := range scores {
		std += (s - mean) * (s - mean)
	}
	std = math.Sqrt(std / float64(len(scores)))
	return mean, std, nil
}

// EvaluateClustering computes the clustering metric vector over scaled
// points and their labels. Noise points (label -1) are excluded from the
// three quality scores; when fewer than two non-noise clusters exist those
// scores are undefined and left out of the vector entirely.
func EvaluateClustering(labels []int, X [][]float64) (MetricVector, error) {
	if len(labels) != len(X) || len(labels) == 0 {
		return nil, errors.New("empty or mismatched labels")
	}

	var points [][]float64
	var kept []int
	noise := 0
	clusterSet := map[int]bool{}
	for i, l := range labels {
		if l == Noise {
			noise++
			continue
		}
		points = append(points, X[i])
		kept = append(kept, l)
		clusterSet[l] = true
	}

	mv := MetricVector{
		MetricNClusters:  float64(len(clusterSet)),
		MetricNoiseRatio: float64(noise) / float64(len(labels)),
	}

	// Quality scores need at least two real clusters and cannot be
	// defined when every point is noise or in one cluster.
	if len(clusterSet) < 2 || len(points) <= len(clusterSet) {
		return mv, nil
	}

	mv[MetricSilhouette] = silhouetteScore(points, kept)
	mv[MetricDaviesBouldin] = daviesBouldinScore(points, kept)
	mv[MetricCalinskiHarabasz] = calinskiHarabaszScore(points, kept)
	return mv, nil
}

func r2Score(yTrue, yPred []float64) float64 {
	var mean float64
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	var ssRes, ssTot float64
	for i := range yTrue {
		ssRes += (yTrue[i] - yPred[i]) * (yTrue[i] - yPred[i])
		ssTot += (yTrue[i] - mean) * (yTrue[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

func rmse(yTrue, yPred []float64) float64 {
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(yTrue)))
}

func mae(yTrue, yPred []float64) float64 {
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue))
}

func silhouetteScore(X [][]float64, labels []int) float64 {
	n := len(X)
	var total float64
	counted := 0
	for i := 0; i < n; i++ {
		// Mean distance to own cluster (a) and to the nearest other
		// cluster (b).
		sums := map[int]float64{}
		counts := map[int]int{}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += euclidean(X[i], X[j])
			counts[labels[j]]++
		}
		own := labels[i]
		if counts[own] == 0 {
			continue // singleton cluster: silhouette undefined for this point
		}
		a := sums[own] / float64(counts[own])
		b := math.Inf(1)
		for l, c := range counts {
			if l == own || c == 0 {
				continue
			}
			if m := sums[l] / float64(c); m < b {
				b = m
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		if a == 0 && b == 0 {
			counted++
			continue
		}
		total += (b - a) / math.Max(a, b)
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

func daviesBouldinScore(X [][]float64, labels []int) float64 {
	centroids, scatter, ids := clusterStats(X, labels)
	k := len(ids)
	var total float64
	for i := 0; i < k; i++ {
		worst := 0.0
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			d := euclidean(centroids[i], centroids[j])
			if d == 0 {
				continue
			}
			if r := (scatter[i] + scatter[j]) / d; r > worst {
				worst = r
			}
		}
		total += worst
	}
	return total / float64(k)
}

func calinskiHarabaszScore(X [][]float64, labels []int) float64 {
	centroids, _, ids := clusterStats(X, labels)
	k := len(ids)
	n := len(X)

	overall := make([]float64, len(X[0]))
	for _, p := range X {
		for j, v := range p {
			overall[j] += v
		}
	}
	for j := range overall {
		overall[j] /= float64(n)
	}

	sizes := map[int]int{}
	for _, l := range labels {
		sizes[l]++
	}

	var between, within float64
	for c, id := range ids {
		d := euclidean(centroids[c], overall)
		between += float64(sizes[id]) * d * d
	}
	for i, p := range X {
		for c, id := range ids {
			if id == labels[i] {
				d := euclidean(p, centroids[c])
				within += d * d
				break
			}
		}
	}
	if within == 0 {
		return 0
	}
	return (between / float64(k-1)) / (within / float64(n-k))
}

// clusterStats returns per-cluster centroids and mean intra-cluster
// distance, with ids giving the cluster label at each position.
func clusterStats(X [][]float64, labels []int) (centroids [][]float64, scatter []float64, ids []int) {
	byCluster := map[int][]int{}
	for i, l := range labels {
		byCluster[l] = append(byCluster[l], i)
	}
	for l, members := range byCluster {
		centroid := make([]float64, len(X[0]))
		for _, i := range members {
			for j, v := range X[i] {
				centroid[j] += v
			}
		}
		for j := range centroid {
			centroid[j] /= float64(len(members))
		}
		var s float64
		for _, i := range members {
			s += euclidean(X[i], centroid)
		}
		centroids = append(centroids, centroid)
		scatter = append(scatter, s/float64(len(members)))
		ids = append(ids, l)
	}
	return centroids, scatter, ids
}
