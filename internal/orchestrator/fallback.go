package orchestrator

import "github.com/fisioflow/backend/internal/storage/models"

// fallbackTemplates hold the deterministic last-resort answers, one per
// query category. They give safe general guidance and always direct the
// user to a qualified professional.
var fallbackTemplates = map[models.Category]string{
	models.CategoryProtocol: `Não encontrei um protocolo específico para a sua pergunta no momento.

De forma geral, protocolos de reabilitação seguem fases progressivas: controle de dor e edema, recuperação de amplitude de movimento, fortalecimento e retorno gradual às atividades. A progressão entre fases deve respeitar critérios clínicos, não apenas prazos.

Recomendo discutir o caso com um fisioterapeuta para definir o protocolo adequado ao quadro do paciente.`,

	models.CategoryDiagnosis: `Não foi possível gerar uma resposta específica para a sua pergunta diagnóstica agora.

Lembre-se de que o diagnóstico cinético-funcional exige anamnese completa, testes específicos e, quando indicado, exames de imagem. Sinais de alerta (dor noturna intensa, perda de força progressiva, alterações de sensibilidade, febre) pedem encaminhamento médico imediato.

Procure reavaliar o paciente presencialmente ou discutir o caso com um colega.`,

	models.CategoryExercise: `Não encontrei uma prescrição de exercícios específica para a sua pergunta.

Como orientação geral: comece com cargas baixas e amplitude confortável, progrida volume antes de intensidade e interrompa qualquer exercício que reproduza dor aguda. Duas a três sessões semanais costumam ser um ponto de partida seguro para a maioria dos quadros.

Um fisioterapeuta deve individualizar a prescrição conforme a avaliação do paciente.`,

	models.CategoryGeneral: `Não consegui gerar uma resposta específica para a sua pergunta neste momento.

Você pode tentar reformular a pergunta com mais detalhes clínicos (região acometida, tempo de evolução, objetivo do tratamento) ou consultar a base de conhecimento da clínica.

Em caso de dúvida clínica relevante, procure a orientação de um fisioterapeuta ou médico.`,
}
