package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"magnus/internal/app"
	"magnus/internal/db"
	"magnus/internal/engine"
	"magnus/internal/migrate"
	"magnus/internal/server"
)

func main() {
	workspace := "/tmp/magnus-smoke1"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	ctx := context.Background()
	e := engine.New(conn, nil)
	cfg, err := app.ResolveConfig(ctx, workspace, e.Repo)
	if err != nil {
		panic(err)
	}
	e.Config = cfg
	if err := e.SeedDefaultTriggers(ctx); err != nil {
		panic(err)
	}
	jwtSecret := "test-secret"
	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()
	token := signToken(jwtSecret, "smoke-tester", "ADMIN", time.Now().Add(time.Hour))

	budget := post(ts.URL+"/v1/budgets", token, map[string]any{
		"name":           "Garcia wedding",
		"client_name":    "Garcia",
		"event_date":     time.Now().Add(240 * time.Hour).UTC().Format(time.RFC3339),
		"event_location": "Riverside hall",
		"guest_count":    120,
		"total_amount":   5400.0,
		"meals_amount":   3200.0,
	})
	id, _ := budget["id"].(string)
	fmt.Printf("created budget %s status=%v\n", id, budget["status"])

	patch(ts.URL+"/v1/workflow/budget-status/"+id, token, map[string]any{"status": "PENDING"})
	approved := post(ts.URL+"/v1/workflow/approve-budget/"+id, token, map[string]any{})
	fmt.Printf("approved budget status=%v triggered=%v\n", approved["status"], approved["workflow_triggered"])

	result := post(ts.URL+"/v1/workflow/trigger-tasks/"+id, token, nil)
	fmt.Printf("trigger result: %v\n", result)
}

func post(url, token string, body map[string]any) map[string]any {
	return call(http.MethodPost, url, token, body)
}

func patch(url, token string, body map[string]any) map[string]any {
	return call(http.MethodPatch, url, token, body)
}

func call(method, url, token string, body map[string]any) map[string]any {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp map[string]any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("%s %s -> %d\n", method, url, res.StatusCode)
	return resp
}

func signToken(secret, actorID, role string, expiresAt time.Time) string {
	claims := map[string]any{
		"sub":  actorID,
		"role": role,
		"exp":  expiresAt.Unix(),
		"nbf":  time.Now().Unix(),
		"iat":  time.Now().Unix(),
	}
	header := map[string]any{"alg": "HS256", "typ": "JWT"}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64RawURLEncode(b)
	}
	sig := hmacSHA256(enc(header)+"."+enc(claims), secret)
	return enc(header) + "." + enc(claims) + "." + sig
}

func base64RawURLEncode(b []byte) string {
	const enc = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	out := make([]byte, 0, (len(b)*4+2)/3)
	var val uint
	var valb int
	for _, c := range b {
		val = (val << 8) | uint(c)
		valb += 8
		for valb >= 6 {
			out = append(out, enc[(val>>(valb-6))&0x3f])
			valb -= 6
		}
	}
	if valb > 0 {
		out = append(out, enc[(val<<(6-valb))&0x3f])
	}
	return string(out)
}

func hmacSHA256(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(data))
	return base64RawURLEncode(h.Sum(nil))
}
