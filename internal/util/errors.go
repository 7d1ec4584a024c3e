package util

import "errors"

var (
	ErrSessionNotFound      = errors.New("no active assessment session")
	ErrQuestionNotFound     = errors.New("question not found in catalog")
	ErrSectionNotFound      = errors.New("section not found in catalog")
	ErrSessionFinished      = errors.New("session already completed")
	ErrSubmissionInFlight   = errors.New("a submission is already in flight")
	ErrSubmissionIncomplete = errors.New("assessment has unanswered questions")
	ErrInvalidHonestyTag    = errors.New("invalid honesty tag")
)
