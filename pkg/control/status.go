package control

import (
	stdErrors "errors"

	"github.com/core-tools/hsu-jobobject/pkg/errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var codeByType = map[errors.ErrorType]codes.Code{
	errors.ErrorTypeInvalidArgument:   codes.InvalidArgument,
	errors.ErrorTypeInvalidOption:     codes.InvalidArgument,
	errors.ErrorTypeValidation:        codes.InvalidArgument,
	errors.ErrorTypeAlreadyExists:     codes.AlreadyExists,
	errors.ErrorTypeAlreadyGrouped:    codes.FailedPrecondition,
	errors.ErrorTypeCapacityExceeded:  codes.ResourceExhausted,
	errors.ErrorTypeMalformedResponse: codes.DataLoss,
	errors.ErrorTypeOSResource:        codes.Internal,
	errors.ErrorTypeCancelled:         codes.Canceled,
}

// toStatusError converts a domain error into a gRPC status carrying the
// error type, operation and OS code as a struct detail.
func toStatusError(err error) error {
	var domainErr *errors.DomainError
	if !stdErrors.As(err, &domainErr) {
		return status.Error(codes.Unknown, err.Error())
	}

	code, ok := codeByType[domainErr.Type]
	if !ok {
		code = codes.Unknown
	}
	st := status.New(code, err.Error())

	detail := map[string]interface{}{
		"type":    string(domainErr.Type),
		"message": domainErr.Message,
	}
	if op := errors.Operation(err); op != "" {
		detail["op"] = op
	}
	if osCode, ok := errors.OSCode(err); ok {
		detail["os_code"] = float64(osCode)
	}
	if s, structErr := structpb.NewStruct(detail); structErr == nil {
		if withDetails, detailErr := st.WithDetails(s); detailErr == nil {
			st = withDetails
		}
	}
	return st.Err()
}

// fromStatusError rebuilds the domain error sent by toStatusError. Transport
// failures become io errors, deadlines become cancellations.
func fromStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		fields := s.AsMap()
		errorType, _ := fields["type"].(string)
		if errorType == "" {
			continue
		}
		message, _ := fields["message"].(string)
		domainErr := errors.NewDomainError(errors.ErrorType(errorType), message, nil)
		if op, ok := fields["op"].(string); ok {
			domainErr.WithContext(errors.ContextKeyOperation, op)
		}
		if osCode, ok := fields["os_code"].(float64); ok {
			domainErr.WithContext(errors.ContextKeyOSCode, uint32(osCode))
		}
		return domainErr
	}

	switch st.Code() {
	case codes.Canceled, codes.DeadlineExceeded:
		return errors.NewCancelledError(st.Message(), err)
	default:
		return errors.NewIOError("control call failed", err)
	}
}
