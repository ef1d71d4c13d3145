// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package lease implements time-bounded, exclusive leases on string
// keys backed by a DynamoDB table. A lease keeps two invocations from
// acting on the same fleet at once: both could otherwise observe an
// empty spot group and both scale it up.
//
// Schema: {ID (hash key, string), Owner, Expires (unix seconds)}.
// A lease is granted by a conditional put that succeeds only if the
// key is absent or its lease has expired, and released by a delete
// conditioned on ownership. An abandoned lease lapses after its TTL.
package lease

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/grailbio/spotmanager/errors"
	"github.com/grailbio/spotmanager/log"
)

// DefaultTTL bounds how long a lease may be held.
const DefaultTTL = 5 * time.Minute

// Column names used in the dynamodb table.
const (
	colID      = "ID"
	colOwner   = "Owner"
	colExpires = "Expires"
)

// Table grants leases from a DynamoDB table.
type Table struct {
	DB        dynamodbiface.DynamoDBAPI
	TableName string
	// TTL is the lease duration; DefaultTTL if zero.
	TTL time.Duration
	// Owner identifies this process in the table; defaults to
	// host:pid.
	Owner string
	Log   *log.Logger
	// Now returns the current time; time.Now if nil.
	Now func() time.Time
}

// Acquire attempts to take the lease on key. If another owner holds
// an unexpired lease, ok is false. Otherwise the returned release
// function gives the lease up; it should be called once the guarded
// work is done.
func (t *Table) Acquire(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error) {
	var (
		owner   = t.owner()
		now     = t.now()
		expires = now.Add(t.ttl())
	)
	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.TableName),
		Item: map[string]*dynamodb.AttributeValue{
			colID:      {S: aws.String(key)},
			colOwner:   {S: aws.String(owner)},
			colExpires: {N: aws.String(strconv.FormatInt(expires.Unix(), 10))},
		},
		ConditionExpression: aws.String("attribute_not_exists(#id) OR #expires < :now"),
		ExpressionAttributeNames: map[string]*string{
			"#id":      aws.String(colID),
			"#expires": aws.String(colExpires),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(strconv.FormatInt(now.Unix(), 10))},
		},
	}
	if _, err := t.DB.PutItemWithContext(ctx, input); err != nil {
		if isConditionFailed(err) {
			t.Log.Printf("lease %s is held by another owner", key)
			return nil, false, nil
		}
		return nil, false, errors.E("acquire", key, errors.Backend, err)
	}
	t.Log.Debugf("lease %s acquired by %s until %s", key, owner, expires.Format(time.RFC3339))
	release = func(ctx context.Context) error {
		return t.release(ctx, key, owner)
	}
	return release, true, nil
}

func (t *Table) release(ctx context.Context, key, owner string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(t.TableName),
		Key: map[string]*dynamodb.AttributeValue{
			colID: {S: aws.String(key)},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]*string{
			"#owner": aws.String(colOwner),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":owner": {S: aws.String(owner)},
		},
	}
	_, err := t.DB.DeleteItemWithContext(ctx, input)
	switch {
	case err == nil:
		t.Log.Debugf("lease %s released by %s", key, owner)
		return nil
	case isConditionFailed(err):
		// The lease expired and was taken over; nothing to release.
		t.Log.Printf("lease %s lost before release", key)
		return nil
	default:
		return errors.E("release", key, errors.Backend, err)
	}
}

func isConditionFailed(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func (t *Table) ttl() time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	return DefaultTTL
}

func (t *Table) owner() string {
	if t.Owner != "" {
		return t.Owner
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func (t *Table) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
