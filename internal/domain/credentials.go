package domain

// Credentials are issued by the credential service for one room.
type Credentials struct {
	RoomID string `json:"channelName"`
	// Credential is the room access token. Empty means no token is presented.
	Credential string `json:"token"`
	LocalID    int    `json:"uid"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}
