//go:build !bertdebug

package device

const panicOnMisuse = false
