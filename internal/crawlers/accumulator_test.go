package crawlers

import (
	"reflect"
	"testing"
)

func cand(u string) Candidate { return Candidate{URL: u} }

func TestAccumulatorDedupAndOrder(t *testing.T) {
	acc := NewAccumulator(10)
	for _, u := range []string{"a", "b", "a", "c", "b"} {
		acc.Add(cand(u))
	}

	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(acc.URLs(), want) {
		t.Errorf("URLs() = %v, want %v", acc.URLs(), want)
	}
	if acc.Len() != 3 {
		t.Errorf("Len() = %d, want 3", acc.Len())
	}
}

func TestAccumulatorLimit(t *testing.T) {
	acc := NewAccumulator(2)
	if !acc.Add(cand("a")) || !acc.Add(cand("b")) {
		t.Fatal("上限内的添加失败")
	}
	if !acc.Full() {
		t.Error("达到上限后 Full() 应为 true")
	}
	if acc.Add(cand("c")) {
		t.Error("已满时 Add 应返回 false")
	}
	if acc.Len() != 2 {
		t.Errorf("Len() = %d, want 2", acc.Len())
	}
}

func TestAccumulatorUnlimited(t *testing.T) {
	acc := NewAccumulator(0)
	for i := 0; i < 50; i++ {
		acc.Add(cand(string(rune('A' + i))))
	}
	if acc.Full() {
		t.Error("limit <= 0 时不应满")
	}
	if acc.Len() != 50 {
		t.Errorf("Len() = %d, want 50", acc.Len())
	}
}

func TestAccumulatorReturnsCopies(t *testing.T) {
	acc := NewAccumulator(5)
	acc.Add(Candidate{URL: "a", Original: "a0"})

	urls := acc.URLs()
	urls[0] = "changed"
	if acc.URLs()[0] != "a" {
		t.Error("修改返回的切片影响了内部状态")
	}
	if got := acc.Candidates(); len(got) != 1 || got[0].Original != "a0" {
		t.Errorf("Candidates() = %+v", got)
	}
}
