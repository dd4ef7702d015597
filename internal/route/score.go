package route

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroDenominator 另外两段路程之和为0,无法计算比例
var ErrZeroDenominator = errors.New("分母为0")

const (
	// DefaultMaxScale 默认满分
	DefaultMaxScale = 5.0

	distanceWeight = 0.65
	timeWeight     = 0.35
)

// Legs 三段路程: 公司-家, 家-健身房, 公司-健身房
type Legs struct {
	WorkHome float64 `json:"work_home"`
	HomeGym  float64 `json:"home_gym"`
	WorkGym  float64 `json:"work_gym"`
}

// Evaluation 住址评分
type Evaluation struct {
	Evaluation float64 `json:"evaluation"`
	G          float64 `json:"G"` // 距离得分
	T          float64 `json:"T"` // 时间得分
	DRate      float64 `json:"dRate"`
	TRate      float64 `json:"tRate"`
	Distances  Legs    `json:"distances"` // 公里
	Times      Legs    `json:"times"`     // 分钟
}

// Score 计算评分
//
//	dRate = dWorkHome / (dWorkGym + dHomeGym), G = maxScale * dRate
//	tRate = tWorkHome / (tWorkGym + tHomeGym), T = maxScale * tRate
//	evaluation = min(0.65G + 0.35T, maxScale)
func Score(distances, times Legs, maxScale float64) (*Evaluation, error) {
	if maxScale <= 0 {
		maxScale = DefaultMaxScale
	}

	dDen := distances.WorkGym + distances.HomeGym
	if dDen == 0 {
		return nil, fmt.Errorf("%w: 距离", ErrZeroDenominator)
	}
	tDen := times.WorkGym + times.HomeGym
	if tDen == 0 {
		return nil, fmt.Errorf("%w: 时间", ErrZeroDenominator)
	}

	e := &Evaluation{Distances: distances, Times: times}
	e.DRate = distances.WorkHome / dDen
	e.G = maxScale * e.DRate
	e.TRate = times.WorkHome / tDen
	e.T = maxScale * e.TRate
	e.Evaluation = math.Min(distanceWeight*e.G+timeWeight*e.T, maxScale)
	return e, nil
}

// Rounded 返回用于展示的副本: 得分保留2位小数,比例保留4位
func (e Evaluation) Rounded() Evaluation {
	e.Evaluation = round(e.Evaluation, 2)
	e.G = round(e.G, 2)
	e.T = round(e.T, 2)
	e.DRate = round(e.DRate, 4)
	e.TRate = round(e.TRate, 4)
	return e
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
