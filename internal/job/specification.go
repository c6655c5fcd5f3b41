package job

import (
	"encoding/json"
	"fmt"
	"strings"

	"depot/internal/apperrors"
)

// Validation limits
const (
	maxOwnerNicknameLength = 32
	maxSuppliedData        = 16
)

// Specification describes one unit of asynchronous work. Each kind pairs
// with a Runner through the service's registration table.
type Specification interface {
	// Kind is the type discriminator, e.g. "pkgiconimportarchive".
	Kind() string

	// OwnerUserNickname identifies the user the job runs on behalf of.
	OwnerUserNickname() string

	// SuppliedDataGUIDs lists the input payloads the job consumes.
	SuppliedDataGUIDs() []string

	// Validate checks kind-specific parameters.
	Validate() error

	// CoalesceKey returns the equivalence key used to collapse duplicate
	// submissions. An error makes the submission always execute.
	CoalesceKey() (string, error)
}

// OwnedSpecification carries the fields shared by all kinds. Embed it.
type OwnedSpecification struct {
	OwnerNickname string `json:"ownerUserNickname,omitempty"`
}

// OwnerUserNickname implements Specification.
func (o OwnedSpecification) OwnerUserNickname() string { return o.OwnerNickname }

// ValidateOwner checks the owner nickname field.
func (o OwnedSpecification) ValidateOwner() error {
	if len(o.OwnerNickname) > maxOwnerNicknameLength {
		return apperrors.Validation("ownerUserNickname", fmt.Sprintf("owner nickname exceeds maximum length of %d", maxOwnerNicknameLength))
	}
	return nil
}

// JSONCoalesceKey derives a coalesce key from the kind and the JSON form of
// spec. Map keys marshal in sorted order so equal specifications produce
// equal keys.
func JSONCoalesceKey(spec Specification) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return spec.Kind() + ":" + string(data), nil
}

// MarshalSpecification marshals a specification with its type field included.
func MarshalSpecification(spec Specification) ([]byte, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	// Inject the type field
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	m["type"] = spec.Kind()

	return json.Marshal(m)
}

// envelope is used for initial JSON unmarshaling to determine the kind.
type envelope struct {
	Type string `json:"type"`
}

// DecodeSpecification unmarshals a JSON specification into the concrete type
// registered for its "type" field.
func (s *Service) DecodeSpecification(data []byte) (Specification, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Validation("type", fmt.Sprintf("failed to determine job type: %v", err))
	}
	if env.Type == "" {
		return nil, apperrors.Validation("type", "job type is required")
	}

	reg, ok := s.registration(env.Type)
	if !ok {
		return nil, apperrors.Validation("type", fmt.Sprintf("unknown job type: %q (known: %s)", env.Type, strings.Join(s.Kinds(), ", ")))
	}

	spec, err := decodeAs(reg.New, data)
	if err != nil {
		return nil, apperrors.Validation("specification", fmt.Sprintf("failed to unmarshal %s specification: %v", env.Type, err))
	}
	return spec, nil
}

// decodeAs unmarshals data into a fresh specification from newSpec.
func decodeAs(newSpec func() Specification, data []byte) (Specification, error) {
	spec := newSpec()
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// validateSpecification applies the checks common to every kind before the
// kind's own validation.
func validateSpecification(spec Specification) error {
	if spec == nil {
		return apperrors.Validation("specification", "job specification is required")
	}
	if spec.Kind() == "" {
		return apperrors.Validation("type", "job type is required")
	}
	guids := spec.SuppliedDataGUIDs()
	if len(guids) > maxSuppliedData {
		return apperrors.Validation("suppliedDataGuids", fmt.Sprintf("supplied data exceed maximum of %d", maxSuppliedData))
	}
	for i, g := range guids {
		if g == "" {
			return apperrors.Validation("suppliedDataGuids", fmt.Sprintf("supplied data guid [%d] is empty", i))
		}
	}
	return spec.Validate()
}
