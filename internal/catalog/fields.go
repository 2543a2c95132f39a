package catalog

// Omie names the same field differently depending on the endpoint and API version.
// Each list is ordered; the first alias with a non-empty value wins.
var (
	catalogProductID       = []string{"codigo_produto", "nCodProd", "id_produto", "nIdProduto"}
	catalogCode            = []string{"codigo", "cCodigo", "cCodProd"}
	catalogIntegrationCode = []string{"codigo_produto_integracao", "cCodInt", "cCodIntProd"}
	catalogEAN             = []string{"ean", "cEAN"}
	catalogDescription     = []string{"descricao", "cDescricao", "descr_detalhada"}
	catalogUnitPrice       = []string{"valor_unitario", "nPrecoUnitario"}
	catalogValue           = []string{"valor"}
	catalogSalePrice       = []string{"preco_venda", "nPrecoVenda"}
	catalogPrice           = []string{"preco", "nPreco"}

	stockProductID    = []string{"nCodProd", "codigo_produto", "nIdProduto", "id_produto"}
	stockCode         = []string{"cCodigo", "codigo", "cCodProd"}
	stockDescription  = []string{"cDescricao", "descricao"}
	stockQuantity     = []string{"nSaldo", "fisico", "saldo", "nFisico"}
	stockUnitPrice    = []string{"nPrecoUnitario", "preco_unitario", "valor_unitario"}
	stockAltUnitValue = []string{"nValorUnitario", "nCMC", "valor"}

	imageURL         = []string{"url_imagem", "cUrlImagem"}
	attachmentURL    = []string{"url_imagem", "cUrlImagem", "url"}
	altImageURLField = []string{"imagem", "foto", "url_foto", "link_imagem", "url"}
)

const attachmentsField = "imagens"
