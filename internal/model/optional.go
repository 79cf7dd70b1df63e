// Package model はドメインモデルを定義する。
package model

import "encoding/json"

// OptionalString はJSONパッチにおける「省略」「null」「値あり」の三状態を区別する文字列フィールド。
// Set が false の場合はフィールド自体がJSONに存在しなかったことを示し、
// Set が true かつ Value が nil の場合は明示的に null が指定されたことを示す。
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON はフィールドが存在した場合にのみ呼ばれ、null と値を区別して取り込む。
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// MarshalJSON はValueをそのままJSONへ書き出す。Valueがnilの場合はnullになる。
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// String は値を返す。未設定・nullの場合は空文字列を返す。
func (o OptionalString) String() string {
	if o.Value == nil {
		return ""
	}
	return *o.Value
}

// NewOptionalString は値ありのOptionalStringを生成する。
func NewOptionalString(v string) OptionalString {
	return OptionalString{Set: true, Value: &v}
}

// NullOptionalString はnull指定（クリア）のOptionalStringを生成する。
func NullOptionalString() OptionalString {
	return OptionalString{Set: true, Value: nil}
}
