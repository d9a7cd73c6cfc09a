package lru_test

import (
	"fmt"

	"github.com/Davincible/d-bounded/lru"
)

func Example() {
	cache := lru.New[string, string](3)
	cache.Put("a", "1")
	cache.Put("b", "2")
	cache.Put("c", "3")

	// Touching "a" makes "b" the least recently used entry.
	v, _ := cache.Get("a")
	fmt.Println(v)

	cache.Put("d", "4")

	_, ok := cache.Get("b")
	fmt.Println(ok)
	fmt.Println(cache.Keys())

	// Output:
	// 1
	// false
	// [d a c]
}
