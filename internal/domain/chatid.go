package domain

// ChatID derives the canonical chat id for an unordered pair of user ids:
// the lexicographically smaller id first, joined by an underscore. It is
// commutative (ChatID(a, b) == ChatID(b, a)) and stable
// for the lifetime of the relationship, so it serves as the primary key for
// both the chat record and its message log.
func ChatID(userA, userB string) string {
	if userA < userB {
		return userA + "_" + userB
	}
	return userB + "_" + userA
}
