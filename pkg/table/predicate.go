package table

// Predicate maps column name to either a scalar (equality) or an
// operator map like {">=": 100}. Supported operators match spec.md
// §4.3: ">", ">=", "<", "<=", "=", "!=".
type Predicate map[string]interface{}

// Matches reports whether rec satisfies every column condition in p.
// A column missing from rec never matches.
func Matches(rec map[string]interface{}, p Predicate) bool {
	for col, cond := range p {
		v, present := rec[col]
		if !present {
			return false
		}
		if opMap, ok := cond.(map[string]interface{}); ok {
			if !matchOps(v, opMap) {
				return false
			}
			continue
		}
		if !equalValues(v, cond) {
			return false
		}
	}
	return true
}

func matchOps(v interface{}, ops map[string]interface{}) bool {
	for op, target := range ops {
		if !compareOp(v, op, target) {
			return false
		}
	}
	return true
}

func compareOp(v interface{}, op string, target interface{}) bool {
	switch op {
	case "=":
		return equalValues(v, target)
	case "!=":
		return !equalValues(v, target)
	case ">", ">=", "<", "<=":
		c, ok := compareValues(v, target)
		if !ok {
			return false
		}
		switch op {
		case ">":
			return c > 0
		case ">=":
			return c >= 0
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		}
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return af == bf
		}
	}
	return a == b
}

// compareValues returns -1/0/+1 for ordered scalar types; ok is false
// if the two values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok || av == bv {
			return 0, ok
		}
		if !av && bv {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}
