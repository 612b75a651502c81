package handlers

import (
	"time"

	"github.com/serroba/admission/internal/ratelimit"
)

// IdentityBody names the caller and the window a decision is taken over.
type IdentityBody struct {
	Prefix        string `doc:"Namespace of the caller"    example:"api"     json:"prefix"`
	Resource      string `doc:"Protected resource"         example:"orders"  json:"resource"`
	Subject       string `doc:"Caller within the resource" example:"user-42" json:"subject"`
	WindowSeconds int64  `doc:"Window length in seconds"   example:"60"      json:"windowSeconds"`
}

func (b IdentityBody) identity() ratelimit.Identity {
	return ratelimit.Identity{Prefix: b.Prefix, Resource: b.Resource, Subject: b.Subject}
}

func (b IdentityBody) window() time.Duration {
	return time.Duration(b.WindowSeconds) * time.Second
}

// RecordRequest asks an algorithm to admit one request.
type RecordRequest struct {
	Algorithm string `doc:"Admission algorithm" example:"token-bucket" path:"algorithm"`
	Body      IdentityBody
}

// DecisionResponse carries an admission decision.
type DecisionResponse struct {
	Body struct {
		Allowed bool `doc:"Whether the request is admitted" json:"allowed"`
	}
}

// UsageRequest identifies the usage to report. Allow pre-checks take the same parameters.
type UsageRequest struct {
	Algorithm     string `doc:"Admission algorithm"        example:"token-bucket" path:"algorithm"`
	Prefix        string `doc:"Namespace of the caller"    example:"api"          query:"prefix"        required:"true"`
	Resource      string `doc:"Protected resource"         example:"orders"       query:"resource"      required:"true"`
	Subject       string `doc:"Caller within the resource" example:"user-42"      query:"subject"       required:"true"`
	WindowSeconds int64  `doc:"Window length in seconds"   example:"60"           query:"windowSeconds" required:"true"`
}

func (r *UsageRequest) body() IdentityBody {
	return IdentityBody{
		Prefix:        r.Prefix,
		Resource:      r.Resource,
		Subject:       r.Subject,
		WindowSeconds: r.WindowSeconds,
	}
}

// UsageResponse reports the algorithm-specific usage figure.
type UsageResponse struct {
	Body struct {
		Count int64 `doc:"Consumed units, or remaining tokens for the token bucket" json:"count"`
	}
}

// LeakRequest names the leaky bucket queue to drain.
type LeakRequest struct {
	Body IdentityBody
}

// LeakResponse reports how many stale markers were dropped.
type LeakResponse struct {
	Body struct {
		Removed int64 `doc:"Number of markers removed" json:"removed"`
	}
}

// SummaryRequest names the identity whose logged decisions are counted.
type SummaryRequest struct {
	Prefix       string `doc:"Namespace of the caller"     example:"api"     query:"prefix"   required:"true"`
	Resource     string `doc:"Protected resource"          example:"orders"  query:"resource" required:"true"`
	Subject      string `doc:"Caller within the resource"  example:"user-42" query:"subject"  required:"true"`
	SinceSeconds int64  `default:"3600" doc:"Look back this many seconds" minimum:"1" query:"sinceSeconds"`
}

// SummaryResponse reports logged decision counts.
type SummaryResponse struct {
	Body struct {
		Allowed int64 `doc:"Admitted decisions in the period" json:"allowed"`
		Denied  int64 `doc:"Denied decisions in the period"   json:"denied"`
	}
}
