// Package lru provides the classic Least-Recently-Used capacity policy.
package lru

import (
	"github.com/IvanBrykalov/policycache/policy"
	"github.com/IvanBrykalov/policycache/policy/maxsize"
)

// New returns a policy keeping at most n entries and evicting the least
// recently read or written one. It is maxsize in access order.
func New[K comparable, V any](n int) policy.Policy[K, V] {
	return maxsize.New[K, V](n, maxsize.AccessOrder())
}
