package automation

const (
	maxRecent        = 5
	maxDrawAttempts  = 10
	antiRepeatMinLen = 4
)

// RecentLimit is the anti-repetition window for a list of n messages.
func RecentLimit(n int) int {
	return min(maxRecent, n/2)
}

// SelectNext picks the next message and updates st. It returns "" for an
// empty list; callers skip the cycle.
func SelectNext(messages []string, mode SendMode, st *RuntimeState, rng Rand) string {
	n := len(messages)
	if n == 0 {
		return ""
	}
	if mode == ModeRandom {
		return selectRandom(messages, st, rng)
	}

	idx := st.CurrentIndex % n
	if idx < 0 {
		idx += n
	}
	st.CurrentIndex = (idx + 1) % n
	return messages[idx]
}

func selectRandom(messages []string, st *RuntimeState, rng Rand) string {
	n := len(messages)
	limit := RecentLimit(n)
	st.RecentMessages = trimRecent(st.RecentMessages, limit)

	if n < antiRepeatMinLen {
		return messages[rng.Intn(n)]
	}

	// After maxDrawAttempts collisions the last draw is accepted anyway.
	var pick string
	for i := 0; i < maxDrawAttempts; i++ {
		pick = messages[rng.Intn(n)]
		if !containsString(st.RecentMessages, pick) {
			break
		}
	}
	st.RecentMessages = trimRecent(append(st.RecentMessages, pick), limit)
	return pick
}

func trimRecent(recent []string, limit int) []string {
	if over := len(recent) - limit; over > 0 {
		return append([]string(nil), recent[over:]...)
	}
	return recent
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
