package syncsocket

import (
	"fmt"
	"net/http"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ClientAuth is sent with the websocket handshake. The jwt is opaque to the client;
// the peer verifies it.
type ClientAuth struct {
	ByJwt      string
	AppVersion string
}

type ByJwt struct {
	ClientId    string
	NetworkName string
	GroupNames  []string
}

// ParseByJwtUnverified reads the claims without checking the signature.
// Only use the result for display and log tags.
func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("Unexpected claims type: %T", token.Claims)
	}

	byJwt := &ByJwt{}

	if clientId, ok := claims["client_id"].(string); ok {
		byJwt.ClientId = clientId
	} else if subject, err := claims.GetSubject(); err == nil {
		byJwt.ClientId = subject
	}
	if networkName, ok := claims["network_name"].(string); ok {
		byJwt.NetworkName = networkName
	}
	if groupNames, ok := claims["groups"].([]any); ok {
		for _, groupName := range groupNames {
			if s, ok := groupName.(string); ok {
				byJwt.GroupNames = append(byJwt.GroupNames, s)
			}
		}
	}

	return byJwt, nil
}

func (self *ClientAuth) Header() http.Header {
	header := http.Header{}
	if self == nil {
		return header
	}
	if self.ByJwt != "" {
		header.Set("Authorization", fmt.Sprintf("Bearer %s", self.ByJwt))
	}
	if self.AppVersion != "" {
		header.Set("X-App-Version", self.AppVersion)
	}
	return header
}

// ClientTag names the client in logs.
func (self *ClientAuth) ClientTag() string {
	if self == nil || self.ByJwt == "" {
		return "anonymous"
	}
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil || byJwt.ClientId == "" {
		return "anonymous"
	}
	return byJwt.ClientId
}
