package appauth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/golang-jwt/jwt/v4"
)

// KMSClient defines the AWS API surface required for KMS signing.
type KMSClient interface {
	Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner signs app JWTs with an asymmetric RSA key held in AWS KMS, so the
// private key material never leaves KMS.
type KMSSigner struct {
	key kmsSigningKey
}

// kmsSigningKey is passed as the "key" to the signing method. It carries the
// startup context and the client needed to call KMS.
type kmsSigningKey struct {
	ctx    context.Context
	client KMSClient
	arn    string
}

// NewAWSKMSSigner creates a signer for the KMS key with the given ARN, using
// the default AWS configuration chain.
func NewAWSKMSSigner(ctx context.Context, arn string) (*KMSSigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load AWS configuration: %w", err)
	}

	return NewKMSSigner(ctx, kms.NewFromConfig(cfg), arn), nil
}

// NewKMSSigner creates a signer using the supplied client.
func NewKMSSigner(ctx context.Context, client KMSClient, arn string) *KMSSigner {
	return &KMSSigner{
		key: kmsSigningKey{
			ctx:    ctx,
			client: client,
			arn:    arn,
		},
	}
}

// Sign implements ghinstallation.Signer.
func (s *KMSSigner) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(kmsRS256, claims).SignedString(s.key)
}

var kmsRS256 = kmsSigningMethod{}

// kmsSigningMethod is an RS256 jwt.SigningMethod where the signature is
// created by KMS. Verification is not supported: GitHub verifies the token.
type kmsSigningMethod struct{}

func (kmsSigningMethod) Alg() string {
	return jwt.SigningMethodRS256.Alg()
}

func (kmsSigningMethod) Verify(signingString, signature string, key interface{}) error {
	return errors.New("KMS signing method does not support verification")
}

func (kmsSigningMethod) Sign(signingString string, key interface{}) (string, error) {
	k, ok := key.(kmsSigningKey)
	if !ok {
		return "", fmt.Errorf("KMS signing method requires a KMS key, got %T", key)
	}

	digest := sha256.Sum256([]byte(signingString))
	out, err := k.client.Sign(k.ctx, &kms.SignInput{
		KeyId:            aws.String(k.arn),
		Message:          digest[:],
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return "", fmt.Errorf("KMS signing failed: %w", err)
	}

	return jwt.EncodeSegment(out.Signature), nil
}
