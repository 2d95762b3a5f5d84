package storagecheck

import (
	"encoding/json"
	"strings"
)

type iamPolicy struct {
	Version   string         `json:"Version"`
	Statement []iamStatement `json:"Statement"`
}

type iamStatement struct {
	Effect    string         `json:"Effect"`
	Action    []string       `json:"Action"`
	Resource  []string       `json:"Resource"`
	Condition map[string]any `json:"Condition,omitempty"`
}

// buildAWSPolicy returns the least-privilege IAM policy docsync needs on
// bucket, scoped to prefix when one is configured.
func buildAWSPolicy(bucket, prefix string) string {
	bucketARN := "arn:aws:s3:::" + bucket
	objects := bucketARN + "/*"
	list := iamStatement{
		Effect:   "Allow",
		Action:   []string{"s3:ListBucket", "s3:GetBucketLocation"},
		Resource: []string{bucketARN},
	}
	if trimmed := strings.Trim(prefix, "/"); trimmed != "" {
		objects = bucketARN + "/" + trimmed + "/*"
		list.Condition = map[string]any{
			"StringLike": map[string][]string{"s3:prefix": {trimmed + "/*"}},
		}
	}
	policy := iamPolicy{
		Version: "2012-10-17",
		Statement: []iamStatement{
			list,
			{
				Effect:   "Allow",
				Action:   []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject", "s3:AbortMultipartUpload"},
				Resource: []string{objects},
			},
		},
	}
	enc, _ := json.MarshalIndent(policy, "", "  ")
	return string(enc)
}
