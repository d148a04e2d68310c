package enums

import "slices"

// BookCondition describes the listed wear of a textbook.
type BookCondition string

const (
	BookConditionNew     BookCondition = "new"
	BookConditionLikeNew BookCondition = "like_new"
	BookConditionGood    BookCondition = "good"
	BookConditionFair    BookCondition = "fair"
	BookConditionPoor    BookCondition = "poor"
)

var validBookConditions = []BookCondition{
	BookConditionNew,
	BookConditionLikeNew,
	BookConditionGood,
	BookConditionFair,
	BookConditionPoor,
}

func (c BookCondition) IsValid() bool {
	return slices.Contains(validBookConditions, c)
}
