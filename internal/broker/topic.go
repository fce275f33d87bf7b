package broker

import "strings"

// topicMatch checks if a topic pattern matches a routing key.
// Supports AMQP wildcards: * (exactly one word) and # (zero or more words)
func topicMatch(pattern string, routingKey string) bool {
	if pattern == "" {
		return routingKey == ""
	}
	if pattern == "#" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	// strings.Split("", ".") returns [""], an empty key has no words
	var routingParts []string
	if routingKey != "" {
		routingParts = strings.Split(routingKey, ".")
	}

	return matchParts(patternParts, routingParts)
}

// matchParts compares word sequences, backtracking over the choices a # makes.
func matchParts(patternParts, routingParts []string) bool {
	type state struct {
		pi, ri int
	}
	stack := []state{{0, 0}}
	seen := make(map[state]bool)

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		pi, ri := cur.pi, cur.ri
		if pi == len(patternParts) {
			if ri == len(routingParts) {
				return true
			}
			continue
		}

		switch word := patternParts[pi]; word {
		case "#":
			// zero words, or swallow one more and stay on the #
			stack = append(stack, state{pi + 1, ri})
			if ri < len(routingParts) {
				stack = append(stack, state{pi, ri + 1})
			}
		case "*":
			if ri < len(routingParts) {
				stack = append(stack, state{pi + 1, ri + 1})
			}
		default:
			if ri < len(routingParts) && word == routingParts[ri] {
				stack = append(stack, state{pi + 1, ri + 1})
			}
		}
	}
	return false
}
