package access

import (
	"fmt"

	"siteline/internal/config"
)

// CapabilityError indicates the actor's role lacks a capability.
type CapabilityError struct {
	Capability string
	Role       string
}

func (e CapabilityError) Error() string {
	return fmt.Sprintf("role %s cannot %s", e.Role, e.Capability)
}

// Service evaluates the config capability matrix.
type Service struct {
	Config *config.Config
}

func contains(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanUpload reports whether the role may upload evidence.
func (s Service) CanUpload(role string) bool {
	if s.Config == nil {
		return false
	}
	return contains(s.Config.Capabilities.Evidence.Upload, role)
}

// CanApprove reports whether the role may approve or reject evidence.
func (s Service) CanApprove(role string) bool {
	if s.Config == nil {
		return false
	}
	return contains(s.Config.Capabilities.Evidence.Approve, role)
}

// CanAssign reports whether the role may assign persons into the bucket.
func (s Service) CanAssign(role, bucket string) bool {
	if s.Config == nil {
		return false
	}
	return contains(s.Config.Capabilities.Buckets[bucket], role)
}

// RequireAssign returns a CapabilityError when the role may not assign into
// the bucket.
func (s Service) RequireAssign(role, bucket string) error {
	if !s.CanAssign(role, bucket) {
		return CapabilityError{Capability: "assign " + bucket, Role: role}
	}
	return nil
}

// RequireUpload returns a CapabilityError when the role may not upload.
func (s Service) RequireUpload(role string) error {
	if !s.CanUpload(role) {
		return CapabilityError{Capability: "upload evidence", Role: role}
	}
	return nil
}

// RequireApprove returns a CapabilityError when the role may not approve.
func (s Service) RequireApprove(role string) error {
	if !s.CanApprove(role) {
		return CapabilityError{Capability: "review evidence", Role: role}
	}
	return nil
}
