// Package client implements the client side of the exact SVM scheme: it
// builds a partially-signed SPL TransferChecked transaction that the
// facilitator's fee payer completes and submits.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/mechanisms/svm"
)

// ExactSvmClient implements the SchemeNetworkClient interface for SVM
// exact payments.
type ExactSvmClient struct {
	signer svm.ClientSvmSigner
	config *svm.ClientConfig
}

// NewExactSvmClient creates a new ExactSvmClient. Config is optional; the
// network's default RPC endpoint is used when none is given.
func NewExactSvmClient(signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *ExactSvmClient {
	var cfg *svm.ClientConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &ExactSvmClient{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (c *ExactSvmClient) Scheme() string {
	return svm.SchemeExact
}

// Register wires the SVM exact client into an x402 client for all known
// Solana networks, on both protocol versions.
func Register(client *x402.X402Client, signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *x402.X402Client {
	scheme := NewExactSvmClient(signer, config...)

	for caip2 := range svm.NetworkConfigs {
		client.RegisterScheme(x402.Network(caip2), scheme)
	}
	for _, network := range svm.V1Networks {
		client.RegisterSchemeV1(x402.Network(network), scheme)
	}
	return client
}

// CreatePaymentPayload builds and partially signs a TransferChecked
// transaction paying the requirements, with the facilitator's fee payer
// (from extra.feePayer) as the transaction fee payer.
func (c *ExactSvmClient) CreatePaymentPayload(
	ctx context.Context,
	x402Version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !svm.IsValidNetwork(networkStr) {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrUnsupportedNetwork+": %s", requirements.Network)
	}

	config, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	rpcURL := config.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		rpcURL = c.config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	asset := requirements.Asset
	if asset == "" {
		asset = config.DefaultAsset.Address
	}
	mintPubkey, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrInvalidAssetAddress+": %w", err)
	}

	// The mint account's owner tells us which token program to target
	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToGetMintAccount+": %w", err)
	}

	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return x402.PartialPaymentPayload{}, errors.New(ErrUnknownTokenProgram)
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrInvalidPayToAddress+": %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToDeriveSourceATA+": %w", err)
	}

	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToDeriveDestinationATA+": %w", err)
	}

	// v1 requirements carry the amount in maxAmountRequired
	amountStr := requirements.Amount
	if amountStr == "" {
		amountStr = requirements.MaxAmountRequired
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrInvalidAmount+": %w", err)
	}

	feePayerAddr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return x402.PartialPaymentPayload{}, errors.New(ErrFeePayerRequired)
	}

	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrInvalidFeePayerAddress+": %w", err)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToDecodeMintData+": %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToGetLatestBlockhash+": %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToBuildComputeLimitIx+": %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPriceMicrolamports).
		ValidateAndBuild()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToBuildComputePriceIx+": %w", err)
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(mintData.Decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mintPubkey).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(c.signer.Address()).
		ValidateAndBuild()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToBuildTransferIx+": %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(latestBlockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToCreateTransaction+": %w", err)
	}

	// Partially sign with the client's key; the fee payer signature slot
	// stays empty for the facilitator
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToSignTransaction+": %w", err)
	}

	base64Tx, err := svm.EncodeTransaction(tx)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf(ErrFailedToEncodeTransaction+": %w", err)
	}

	svmPayload := &svm.ExactSvmPayload{
		Transaction: base64Tx,
	}

	return x402.PartialPaymentPayload{
		X402Version: x402Version,
		Payload:     svmPayload.ToMap(),
	}, nil
}
