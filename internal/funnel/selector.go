package funnel

import "math/rand"

// SelectVariant picks a message variant for the given funnel stage and user
// type using weighted random selection. Variants matching the user type
// exactly are preferred; variants registered under the default type act as a
// fallback only when no exact match exists for the stage.
func SelectVariant(variants []Variant, stage int, userType string, rng *rand.Rand) (Variant, error) {
	pool := filterVariants(variants, stage, userType)
	if len(pool) == 0 && userType != DefaultUserType {
		pool = filterVariants(variants, stage, DefaultUserType)
	}
	if len(pool) == 0 {
		return Variant{}, ErrNoVariant
	}

	total := 0
	for _, v := range pool {
		total += v.Weight
	}

	draw := rng.Intn(total)
	for _, v := range pool {
		draw -= v.Weight
		if draw < 0 {
			return v, nil
		}
	}

	// Unreachable while weights are positive; keep the last entry as a guard.
	return pool[len(pool)-1], nil
}

func filterVariants(variants []Variant, stage int, userType string) []Variant {
	var pool []Variant

	for _, v := range variants {
		if v.Stage != stage || v.UserType != userType {
			continue
		}
		if v.Weight < 1 {
			continue
		}
		pool = append(pool, v)
	}

	return pool
}
