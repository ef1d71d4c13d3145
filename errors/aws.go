// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
)

// AWSKind interprets an AWS API error into an error kind. The codes
// are shared across the EC2, Auto Scaling, CloudFormation and
// DynamoDB APIs, which do not agree on a single vocabulary.
func AWSKind(aerr awserr.Error) Kind {
	switch aerr.Code() {
	case request.CanceledErrorCode:
		return Canceled
	case request.ErrCodeResponseTimeout:
		return Timeout
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation",
		"AuthFailure", "ExpiredToken", "ExpiredTokenException", "InvalidClientTokenId":
		return NotAllowed
	case "Throttling", "ThrottlingException", "RequestLimitExceeded",
		"ProvisionedThroughputExceededException", "ResourceContention":
		return Temporary
	case "ServiceUnavailable", "Unavailable", "InternalFailure", "InternalError",
		"InternalServerError", "ServiceUnavailableException":
		return Unavailable
	case "ResourceNotFoundException", "NotFound",
		"InvalidVpcID.NotFound", "InvalidSubnetID.NotFound":
		return NotExist
	case "ValidationError":
		// CloudFormation reports absent stacks and resources as
		// validation errors.
		if strings.Contains(aerr.Message(), "does not exist") {
			return NotExist
		}
		return Invalid
	case "InvalidParameterValue", "InvalidParameterCombination", "ValidationException":
		return Invalid
	}
	return Other
}
