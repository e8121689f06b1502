package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Consecutive guards with the same return are mergeable with ||.
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`if $c1 { continue }; if $c2 { continue }`).
		Report(`two consecutive continues; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { continue }`)

	// Locks taken without a paired deferred unlock leak on early returns.
	m.Match(`$mu.Lock(); $*_; $mu.Lock()`).
		Report(`double lock on the same mutex in one scope`)

	// context.Background() inside a request handler hides cancellation;
	// thread the request context instead.
	m.Match(`$w.Header().Set($*_); $*_; context.Background()`).
		Report(`handler spawns work detached from the request context`)
}

func pipeline(m dsl.Matcher) {
	// Errors must keep their sentinel chain for errors.Is at the API layer.
	m.Match(`errors.New(fmt.Sprintf($*args))`).
		Report(`use fmt.Errorf instead of errors.New(fmt.Sprintf(...))`).
		Suggest(`fmt.Errorf($args)`)

	m.Match(`fmt.Errorf("%s", $err.Error())`).
		Report(`wrapping with %s drops the error chain; use %w`).
		Suggest(`fmt.Errorf("%w", $err)`)
}
