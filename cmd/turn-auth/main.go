package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// TurnCredentials is the short-lived turn: URI credential set a peer
// needs to fall back to a TURN relay when direct/STUN reachability
// (C4) fails.
type TurnCredentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int      `json:"ttl"`
	URIs     []string `json:"uris"`
}

// handleRequest mints time-limited coturn REST-API credentials: the
// username is an expiry timestamp (plus a fixed suffix), the password
// is HMAC-SHA1(username, secret) base64-encoded, per coturn's
// use-auth-secret scheme. coturn accepts the credential until the
// embedded timestamp elapses, so no revocation call is needed.
func handleRequest(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	secretKey := os.Getenv("TURN_SECRET_KEY")
	if secretKey == "" {
		return errorResponse(500, "Server misconfigured (missing secret)"), nil
	}

	ttl := 3600
	expiration := time.Now().Add(time.Duration(ttl) * time.Second).Unix()

	username := fmt.Sprintf("%d:jend-user", expiration)

	// HMAC-SHA1
	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	creds := TurnCredentials{
		Username: username,
		Password: password,
		TTL:      ttl,
		URIs: []string{
			"turn:" + os.Getenv("TURN_URI") + "?transport=udp",
			"turn:" + os.Getenv("TURN_URI") + "?transport=tcp",
		},
	}

	body, _ := json.Marshal(creds)

	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(body),
	}, nil
}

func errorResponse(code int, msg string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: code,
		Body:       fmt.Sprintf(`{"error":"%s"}`, msg),
	}
}

func main() {
	lambda.Start(handleRequest)
}
