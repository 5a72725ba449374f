package learn

import (
	"errors"
	"fmt"
)

// Model kinds recorded in persisted boxes.
const (
	KindBoosted         = "boosted"
	KindForest          = "forest"
	KindForestQuantile  = "forest_quantile"
	KindRidge           = "ridge"
	KindLinearQuantile  = "linear_quantile"
	KindLogistic        = "logistic"
	KindBoostedQuantile = "boosted_quantile"
)

var errEmptyBox = errors.New("model box is empty")

// RegressorBox is the JSON form of any Regressor in this package.
type RegressorBox struct {
	Kind           string            `json:"kind"`
	Boosted        *BoostedRegressor `json:"boosted,omitempty"`
	Forest         *ForestRegressor  `json:"forest,omitempty"`
	ForestQuantile *ForestQuantile   `json:"forest_quantile,omitempty"`
	Ridge          *Ridge            `json:"ridge,omitempty"`
	LinearQuantile *LinearQuantile   `json:"linear_quantile,omitempty"`
}

// BoxRegressor wraps r for persistence.
func BoxRegressor(r Regressor) (RegressorBox, error) {
	switch m := r.(type) {
	case *BoostedRegressor:
		kind := KindBoosted
		if m.Loss == LossQuantile {
			kind = KindBoostedQuantile
		}
		return RegressorBox{Kind: kind, Boosted: m}, nil
	case *ForestQuantile:
		return RegressorBox{Kind: KindForestQuantile, ForestQuantile: m}, nil
	case *ForestRegressor:
		return RegressorBox{Kind: KindForest, Forest: m}, nil
	case *Ridge:
		return RegressorBox{Kind: KindRidge, Ridge: m}, nil
	case *LinearQuantile:
		return RegressorBox{Kind: KindLinearQuantile, LinearQuantile: m}, nil
	default:
		return RegressorBox{}, fmt.Errorf("cannot persist regressor %T", r)
	}
}

// Regressor restores the boxed model.
func (b RegressorBox) Regressor() (Regressor, error) {
	var r Regressor
	switch b.Kind {
	case KindBoosted, KindBoostedQuantile:
		if b.Boosted != nil {
			r = b.Boosted
		}
	case KindForest:
		if b.Forest != nil {
			r = b.Forest
		}
	case KindForestQuantile:
		if b.ForestQuantile != nil {
			r = b.ForestQuantile
		}
	case KindRidge:
		if b.Ridge != nil {
			r = b.Ridge
		}
	case KindLinearQuantile:
		if b.LinearQuantile != nil {
			r = b.LinearQuantile
		}
	default:
		return nil, fmt.Errorf("unknown regressor kind %q", b.Kind)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w", b.Kind, errEmptyBox)
	}
	return r, nil
}

// QuantileRegressor restores the boxed model as a quantile regressor.
func (b RegressorBox) QuantileRegressor() (QuantileRegressor, error) {
	r, err := b.Regressor()
	if err != nil {
		return nil, err
	}
	q, ok := r.(QuantileRegressor)
	if !ok {
		return nil, fmt.Errorf("%s is not a quantile regressor", b.Kind)
	}
	return q, nil
}

// ClassifierBox is the JSON form of any Classifier in this package.
type ClassifierBox struct {
	Kind     string             `json:"kind"`
	Boosted  *BoostedClassifier `json:"boosted,omitempty"`
	Forest   *ForestClassifier  `json:"forest,omitempty"`
	Logistic *Logistic          `json:"logistic,omitempty"`
}

// BoxClassifier wraps c for persistence.
func BoxClassifier(c Classifier) (ClassifierBox, error) {
	switch m := c.(type) {
	case *BoostedClassifier:
		return ClassifierBox{Kind: KindBoosted, Boosted: m}, nil
	case *ForestClassifier:
		return ClassifierBox{Kind: KindForest, Forest: m}, nil
	case *Logistic:
		return ClassifierBox{Kind: KindLogistic, Logistic: m}, nil
	default:
		return ClassifierBox{}, fmt.Errorf("cannot persist classifier %T", c)
	}
}

// Classifier restores the boxed model.
func (b ClassifierBox) Classifier() (Classifier, error) {
	var c Classifier
	switch b.Kind {
	case KindBoosted:
		if b.Boosted != nil {
			c = b.Boosted
		}
	case KindForest:
		if b.Forest != nil {
			c = b.Forest
		}
	case KindLogistic:
		if b.Logistic != nil {
			c = b.Logistic
		}
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", b.Kind)
	}
	if c == nil {
		return nil, fmt.Errorf("%s: %w", b.Kind, errEmptyBox)
	}
	return c, nil
}
