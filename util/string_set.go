package util

// StringSet is not safe for concurrent use.
type StringSet struct {
	internal map[string]int
}

func NewStringSet() *StringSet {
	return &StringSet{internal: make(map[string]int)}
}

func (set *StringSet) Add(str string) {
	set.internal[str] = 1
}

func (set *StringSet) AddAll(itemSlice []string) {
	for _, item := range itemSlice {
		set.internal[item] = 1
	}
}

func (set *StringSet) Has(str string) bool {
	_, ok := set.internal[str]
	return ok
}

func (set *StringSet) ToArray() []string {
	res := make([]string, len(set.internal))
	i := 0
	for key := range set.internal {
		res[i] = key
		i++
	}
	return res
}

func (set *StringSet) Size() int {
	return len(set.internal)
}
