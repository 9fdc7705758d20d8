package db

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a single attempt of a write that may fail.
type Operation func() error

// IsDuplicateKeyError decides whether an error warrants another attempt.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// Try executes an operation with default retry settings for duplicate key
// errors. Operations that generate their own IDs get a fresh ID per attempt,
// so _id collisions resolve; collisions on semantic unique indexes (email,
// handle) exhaust the retries and surface to the caller.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsMongoDuplicateKeyError)
}

// WithRetries executes op up to 1+maxRetries times, retrying only duplicate
// key failures with a short incremental backoff.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !isDuplicateKey(err) {
			return err
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key
// error (code 11000), in either a plain or a bulk write exception.
func IsMongoDuplicateKeyError(err error) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// IsDuplicateOn reports whether err is a duplicate key error on the named
// index. Mongo embeds the index name in the write error message.
func IsDuplicateOn(err error, indexName string) bool {
	if !IsMongoDuplicateKeyError(err) {
		return false
	}
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if we.Code == 11000 && strings.Contains(we.Message, "index: "+indexName) {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code == 11000 && strings.Contains(we.Message, "index: "+indexName) {
				return true
			}
		}
	}
	return false
}
