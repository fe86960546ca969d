// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"errors"
	"fmt"
)

// Action names a request on the wire.
type Action string

const (
	ActionRegister              Action = "to_Register"
	ActionGetRegistrarPublicKey Action = "get_registrar_public_key"
	ActionGetRegistrarSecretKey Action = "get_registrar_secret_key"
	ActionGetBlindProofParams   Action = "get_pp_zk"
	ActionGetIssuanceParams     Action = "get_pp_issuance"
	ActionGetIssuersSecretKeys  Action = "get_honest_issuers_secret_keys"
	ActionGetIssuersPublicKeys  Action = "get_honest_issuers_public_keys"
	ActionBlindPartialExtract   Action = "to_VerifyID_and_BlindPartialExtract"
	ActionCheckUniqueness       Action = "check_uniqueness"
	ActionAddUser               Action = "add_user"
	ActionFindUser              Action = "find_user"
	ActionComputeSKs            Action = "compute_sks"
	ActionRetrieveSKs           Action = "retrieve_sks"
	ActionUpdateSession         Action = "update_session"
	ActionUnreadFlag            Action = "unread_flag"
	ActionStoreWrite            Action = "store_write"
	ActionStoreRead             Action = "store_read"
	ActionStoreDelete           Action = "store_delete"
	ActionStoreSubscribe        Action = "store_subscribe"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes carried by error responses.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeInvalidAction     = "invalid_action"
	CodeAlreadyRegistered = "already_registered"
	CodeNotFound          = "not_found"
	CodeVerifyFailed      = "verify_failed"
	CodeReplayed          = "replayed"
	CodeStaleSession      = "stale_session"
	CodeForbidden         = "forbidden"
	CodeSlotChanged       = "slot_changed"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

// ErrInvalidAction is returned when decoding a request with an unknown
// action.
var ErrInvalidAction = errors.New("wire: invalid action")

// Header is the envelope shared by all requests.
type Header struct {
	Name Action `json:"action"`
}

func (h *Header) header() *Header {
	return h
}

// Request is one of the request types of this package.  The set is
// closed: only types declared here implement it.
type Request interface {
	Action() Action
	header() *Header
}

// Status is the envelope shared by all responses.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (s *Status) status() *Status {
	return s
}

// Response is one of the response types of this package.
type Response interface {
	status() *Status
}

// OK returns a success Status with message.
func OK(message string) Status {
	return Status{Status: StatusSuccess, Message: message}
}

// ErrorResponse is sent when a request fails.
type ErrorResponse struct {
	Status
}

// Error is a handler failure with a wire error code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError tags err with a wire error code.
func NewError(code string, err error) error {
	return &Error{Code: code, Err: err}
}

// Errorf formats a coded error.
func Errorf(code, format string, args ...interface{}) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// NewErrorResponse maps err to an error response.
func NewErrorResponse(err error) *ErrorResponse {
	code := CodeInternal
	var we *Error
	if errors.As(err, &we) {
		code = we.Code
	}
	return &ErrorResponse{Status: Status{Status: StatusError, Message: err.Error(), Code: code}}
}

// RemoteError is an error response as seen by the caller.
type RemoteError struct {
	Action  Action
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error (%s): %s", e.Action, e.Code, e.Message)
}

// IsCode reports whether err is a RemoteError with the given code.
func IsCode(err error, code string) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}

// IndexedKey is a key belonging to one issuer.
type IndexedKey struct {
	Index uint32 `json:"index" validate:"min=1"`
	Key   []byte `json:"key" validate:"required"`
}

// Registrar.

type RegisterRequest struct {
	Header
	IDString string `json:"id_string" validate:"required,alphanum,max=64"`
	Domain   []byte `json:"domain" validate:"required"`
}

func (*RegisterRequest) Action() Action { return ActionRegister }

type RegisterResponse struct {
	Status
	Attestation []byte `json:"attestation"`
}

type GetRegistrarPublicKeyRequest struct {
	Header
}

func (*GetRegistrarPublicKeyRequest) Action() Action { return ActionGetRegistrarPublicKey }

type RegistrarPublicKeyResponse struct {
	Status
	RegistrarPublicKey []byte `json:"registrar_public_key"`
	Domain             []byte `json:"domain"`
}

type GetRegistrarSecretKeyRequest struct {
	Header
}

func (*GetRegistrarSecretKeyRequest) Action() Action { return ActionGetRegistrarSecretKey }

type RegistrarSecretKeyResponse struct {
	Status
	RegistrarSecretKey []byte `json:"registrar_secret_key"`
}

// Issuers and dealer.

type GetBlindProofParamsRequest struct {
	Header
}

func (*GetBlindProofParamsRequest) Action() Action { return ActionGetBlindProofParams }

type BlindProofParamsResponse struct {
	Status
	Scheme            string `json:"scheme"`
	Domain            []byte `json:"domain"`
	MaxIdentityLength int    `json:"max_identity_length"`
}

type GetIssuanceParamsRequest struct {
	Header
}

func (*GetIssuanceParamsRequest) Action() Action { return ActionGetIssuanceParams }

type IssuanceParamsResponse struct {
	Status
	Scheme          string `json:"scheme"`
	N               int    `json:"n"`
	Threshold       int    `json:"threshold"`
	MasterPublicKey []byte `json:"master_public_key"`

	// Set when answered by an issuer.
	Index           uint32 `json:"index,omitempty"`
	IssuerPublicKey []byte `json:"issuer_public_key,omitempty"`
}

type BlindPartialExtractRequest struct {
	Header
	BlindID          []byte `json:"blind_id" validate:"required"`
	BlindAttestation []byte `json:"blind_attestation" validate:"required"`
}

func (*BlindPartialExtractRequest) Action() Action { return ActionBlindPartialExtract }

type BlindPartialExtractResponse struct {
	Status
	Index           uint32 `json:"index"`
	BlindPartialKey []byte `json:"blind_partial_key"`
}

type GetIssuersSecretKeysRequest struct {
	Header
}

func (*GetIssuersSecretKeysRequest) Action() Action { return ActionGetIssuersSecretKeys }

type IssuersSecretKeysResponse struct {
	Status
	Keys []IndexedKey `json:"honest_issuers_secret_keys"`
}

type GetIssuersPublicKeysRequest struct {
	Header
}

func (*GetIssuersPublicKeysRequest) Action() Action { return ActionGetIssuersPublicKeys }

type IssuersPublicKeysResponse struct {
	Status
	Keys []IndexedKey `json:"honest_issuers_public_keys"`
}

type ComputeSKsRequest struct {
	Header
	AliceIDString string `json:"alice_id_string" validate:"required,alphanum,max=64"`
	BobIDString   string `json:"bob_id_string" validate:"required,alphanum,max=64,nefield=AliceIDString"`
}

func (*ComputeSKsRequest) Action() Action { return ActionComputeSKs }

type ComputeSKsResponse struct {
	Status
	KeyID string `json:"key_id"`
}

type RetrieveSKsRequest struct {
	Header
	KeyID        string `json:"key_id" validate:"required,uuid4"`
	IDString     string `json:"id_string" validate:"required,alphanum,max=64"`
	WantIDString string `json:"want_id_string" validate:"required,alphanum,max=64"`
}

func (*RetrieveSKsRequest) Action() Action { return ActionRetrieveSKs }

type RetrieveSKsResponse struct {
	Status
	SK []byte `json:"sk"`
}

// Directory.

type CheckUniquenessRequest struct {
	Header
	IDString string `json:"id_string" validate:"required,alphanum,max=64"`
}

func (*CheckUniquenessRequest) Action() Action { return ActionCheckUniqueness }

type CheckUniquenessResponse struct {
	Status
	Unique bool `json:"unique"`
}

type AddUserRequest struct {
	Header
	IDString string `json:"id_string" validate:"required,alphanum,max=64"`
}

func (*AddUserRequest) Action() Action { return ActionAddUser }

type AddUserResponse struct {
	Status
	SessionToken string `json:"session_token"`
}

type FindUserRequest struct {
	Header
	IDString string `json:"id_string" validate:"required,alphanum,max=64"`
}

func (*FindUserRequest) Action() Action { return ActionFindUser }

type FindUserResponse struct {
	Status
	IDString     string `json:"id_string"`
	RegisteredAt int64  `json:"registered_at"`
}

type UpdateSessionRequest struct {
	Header
	IDString string `json:"id_string" validate:"required,alphanum,max=64"`
}

func (*UpdateSessionRequest) Action() Action { return ActionUpdateSession }

type UpdateSessionResponse struct {
	Status
	SessionToken string `json:"session_token"`
}

// Unread flag operations.
const (
	UnreadRead     = "r"
	UnreadSetTrue  = "wt"
	UnreadSetFalse = "wf"
)

type UnreadFlagRequest struct {
	Header
	IDString     string `json:"id_string" validate:"required,alphanum,max=64"`
	RW           string `json:"rw" validate:"required,oneof=r wt wf"`
	SessionToken string `json:"session_token,omitempty" validate:"required_unless=RW wt"`
}

func (*UnreadFlagRequest) Action() Action { return ActionUnreadFlag }

type UnreadFlagResponse struct {
	Status
	Flag bool `json:"flag"`
}

// Dead-drop store.

type StoreWriteRequest struct {
	Header
	Address    string `json:"address" validate:"required,eth_addr"`
	Tag        []byte `json:"tag" validate:"required"`
	Nonce      []byte `json:"nonce" validate:"required"`
	Proof      []byte `json:"proof" validate:"required"`
	IV         []byte `json:"iv" validate:"required"`
	Ciphertext []byte `json:"ciphertext" validate:"required"`
	Sender     string `json:"sender" validate:"required,alphanum,max=64"`
}

func (*StoreWriteRequest) Action() Action { return ActionStoreWrite }

type StoreWriteResponse struct {
	Status
	Overwrote bool `json:"overwrote"`
}

type StoreReadRequest struct {
	Header
	Address string `json:"address" validate:"required,eth_addr"`
	Caller  string `json:"caller" validate:"required,alphanum,max=64"`
}

func (*StoreReadRequest) Action() Action { return ActionStoreRead }

type StoreReadResponse struct {
	Status
	Found      bool   `json:"found"`
	IV         []byte `json:"iv,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
	Sender     string `json:"sender,omitempty"`
	WrittenAt  int64  `json:"written_at,omitempty"`
}

type StoreDeleteRequest struct {
	Header
	Address string `json:"address" validate:"required,eth_addr"`
	Tag     []byte `json:"tag" validate:"required"`
	Nonce   []byte `json:"nonce" validate:"required"`
	Proof   []byte `json:"proof" validate:"required"`
	Caller  string `json:"caller" validate:"required,alphanum,max=64"`

	// Digest, when set, limits the delete to the message it names.
	Digest []byte `json:"digest,omitempty" validate:"omitempty,len=32"`
}

func (*StoreDeleteRequest) Action() Action { return ActionStoreDelete }

type StoreDeleteResponse struct {
	Status
	Existed bool `json:"existed"`
}

type StoreSubscribeRequest struct {
	Header
	Addresses  []string `json:"addresses" validate:"required,min=1,max=1024,dive,eth_addr"`
	Subscriber string   `json:"subscriber" validate:"required,alphanum,max=64"`
	WaitMillis int64    `json:"wait_ms" validate:"min=0"`
}

func (*StoreSubscribeRequest) Action() Action { return ActionStoreSubscribe }

// StoreEvent reports a write to a subscribed address.
type StoreEvent struct {
	Address string `json:"address"`
	Sender  string `json:"sender"`
}

type StoreSubscribeResponse struct {
	Status
	Events []StoreEvent `json:"events"`
}

// newRequest returns an empty request for action.
func newRequest(action Action) (Request, error) {
	switch action {
	case ActionRegister:
		return new(RegisterRequest), nil
	case ActionGetRegistrarPublicKey:
		return new(GetRegistrarPublicKeyRequest), nil
	case ActionGetRegistrarSecretKey:
		return new(GetRegistrarSecretKeyRequest), nil
	case ActionGetBlindProofParams:
		return new(GetBlindProofParamsRequest), nil
	case ActionGetIssuanceParams:
		return new(GetIssuanceParamsRequest), nil
	case ActionGetIssuersSecretKeys:
		return new(GetIssuersSecretKeysRequest), nil
	case ActionGetIssuersPublicKeys:
		return new(GetIssuersPublicKeysRequest), nil
	case ActionBlindPartialExtract:
		return new(BlindPartialExtractRequest), nil
	case ActionCheckUniqueness:
		return new(CheckUniquenessRequest), nil
	case ActionAddUser:
		return new(AddUserRequest), nil
	case ActionFindUser:
		return new(FindUserRequest), nil
	case ActionComputeSKs:
		return new(ComputeSKsRequest), nil
	case ActionRetrieveSKs:
		return new(RetrieveSKsRequest), nil
	case ActionUpdateSession:
		return new(UpdateSessionRequest), nil
	case ActionUnreadFlag:
		return new(UnreadFlagRequest), nil
	case ActionStoreWrite:
		return new(StoreWriteRequest), nil
	case ActionStoreRead:
		return new(StoreReadRequest), nil
	case ActionStoreDelete:
		return new(StoreDeleteRequest), nil
	case ActionStoreSubscribe:
		return new(StoreSubscribeRequest), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// EncodeRequest serializes req with its action set.
func EncodeRequest(req Request) ([]byte, error) {
	req.header().Name = req.Action()
	return marshal(req)
}

// DecodeRequest parses a request, rejecting unknown actions and fields,
// and validates it.
func DecodeRequest(b []byte) (Request, error) {
	var h Header
	if err := unmarshal(looseHandle, b, &h); err != nil {
		return nil, NewError(CodeInvalidRequest, err)
	}
	req, err := newRequest(h.Name)
	if err != nil {
		return nil, NewError(CodeInvalidAction, err)
	}
	if err := unmarshal(strictHandle, b, req); err != nil {
		return nil, NewError(CodeInvalidRequest, err)
	}
	if err := Validate(req); err != nil {
		return nil, NewError(CodeInvalidRequest, err)
	}
	return req, nil
}
