package page

import (
	"bytes"
	"encoding/json"
	"math"
)

var jsonNull = []byte("null")

// optString は存在する場合のみ値を持つ文字列フィールド。
// JSONの文字列以外（null、数値、オブジェクト等）は存在しないものとして扱う。
type optString struct {
	Value   string
	Present bool
}

// UnmarshalJSON はjson.Unmarshalerを実装する。エラーは返さない。
func (s *optString) UnmarshalJSON(data []byte) error {
	*s = optString{}
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*s = optString{Value: v, Present: true}
	return nil
}

// MarshalJSON は存在しない場合にnullを出力する。
func (s optString) MarshalJSON() ([]byte, error) {
	if !s.Present {
		return jsonNull, nil
	}
	return json.Marshal(s.Value)
}

// optNumber は存在する場合のみ値を持つ数値フィールド。
// 数値以外は存在しないものとして扱い、小数は切り捨てる。int64の範囲外は上下限に丸める。
type optNumber struct {
	Value   int64
	Present bool
}

// UnmarshalJSON はjson.Unmarshalerを実装する。エラーは返さない。
func (n *optNumber) UnmarshalJSON(data []byte) error {
	*n = optNumber{}
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return nil
	}
	// json.Numberは文字列リテラルも受け付けるため、先頭が引用符なら数値ではない
	if len(data) > 0 && data[0] == '"' {
		return nil
	}
	if i, err := num.Int64(); err == nil {
		*n = optNumber{Value: i, Present: true}
		return nil
	}
	f, err := num.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = optNumber{Value: clampInt64(f), Present: true}
	return nil
}

// clampInt64 はfをint64の範囲に収めて整数化する。
func clampInt64(f float64) int64 {
	// float64(math.MaxInt64) は 2^63 に丸められるため、以上を上限扱いにする
	if f >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	if f <= float64(math.MinInt64) {
		return math.MinInt64
	}
	return int64(f)
}

// MarshalJSON は存在しない場合にnullを出力する。
func (n optNumber) MarshalJSON() ([]byte, error) {
	if !n.Present {
		return jsonNull, nil
	}
	return json.Marshal(n.Value)
}

// rawPicture はGraph APIの picture{data{url}} 形状。
type rawPicture struct {
	Data struct {
		URL optString `json:"url"`
	} `json:"data"`
}

// UnmarshalJSON はオブジェクト以外の値を無視する。
func (p *rawPicture) UnmarshalJSON(data []byte) error {
	*p = rawPicture{}
	type plain rawPicture
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*p = rawPicture(v)
	return nil
}
