package usecase

import "lessoncall/internal/domain"

// maxPeers caps the room at the two call participants.
const maxPeers = 2

// EngineConfigFor returns the initial device and UI settings for a join.
// Identity, room and token fields are left for the caller.
func EngineConfigFor(role domain.Role, callType domain.CallType) domain.JoinConfig {
	instructor := role == domain.RoleInstructor
	return domain.JoinConfig{
		Type:                callType,
		CameraOn:            instructor && callType == domain.CallTypeVideo,
		MicrophoneOn:        instructor,
		MaxPeers:            maxPeers,
		ShowTextChat:        false,
		ShowParticipantList: false,
	}
}
